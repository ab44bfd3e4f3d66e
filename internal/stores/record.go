package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/codicle/authcore/internal"
)

const (
	recordVersionV1 = 1
)

var (
	ErrRecordNotFound     = errors.New("credential record not found")
	ErrRecordExpired      = errors.New("credential record expired")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	errRecordEmailTooLong = errors.New("credential record email too long")
)

// Record is the decoded form of an OTP or reset token entry. The secret
// itself is never persisted; it only contributes to the key.
type Record struct {
	Email     string
	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the record is past its window at now.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAt
}

func emailDigest(email string) string {
	return internal.HashSecretHex(email)
}

func secretDigest(email, secret string) string {
	return internal.HashSecretHex(email, secret)
}

// layout: version(1) expiresAt(8) createdAt(8) emailLen(2) email
func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}

	if len(record.Email) > 65535 {
		return nil, errRecordEmailTooLong
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid credential record version")
	}

	record := &Record{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}

	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	return record, nil
}
