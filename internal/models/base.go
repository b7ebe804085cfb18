// Package models defines the GORM models that persist benchmark runs.
package models

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a sortable identifier stored as its 26 character string form.
type ULID ulid.ULID

// NewULID generates a ULID for the current time.
func NewULID() ULID {
	return NewULIDAt(time.Now())
}

// NewULIDAt generates a ULID whose timestamp is t.
func NewULIDAt(t time.Time) ULID {
	return ULID(ulid.MustNew(ulid.Timestamp(t), rand.Reader))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

// parseOptional treats the empty string as the zero ULID.
func parseOptional(s string) (ULID, error) {
	if s == "" {
		return ULID{}, nil
	}
	return ParseULID(s)
}

func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether u is unset.
func (u ULID) IsZero() bool {
	return u == ULID{}
}

// Time returns the timestamp encoded in u.
func (u ULID) Time() time.Time {
	return ulid.Time(ulid.ULID(u).Time())
}

// Value implements driver.Valuer. The zero ULID is stored as NULL.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan implements sql.Scanner.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}

	id, err := parseOptional(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = id
	return nil
}

// MarshalJSON encodes the zero ULID as null.
func (u ULID) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON accepts null, "" or a ULID string.
func (u *ULID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*u = ULID{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid ULID JSON: %s", s)
	}
	id, err := parseOptional(s[1 : len(s)-1])
	if err != nil {
		return fmt.Errorf("parsing ULID JSON: %w", err)
	}
	*u = id
	return nil
}

// GormDataType returns the column type used for ULIDs.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel carries the ULID primary key and creation time shared by all
// run tables. Rows are append-only, so there is no soft delete.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns an ID when none is set.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
