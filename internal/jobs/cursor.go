package jobs

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobvault/internal/domain"
)

// DecodeCursor parses an opaque page cursor; an empty string means the first page
func DecodeCursor(s string) (*domain.JobCursor, error) {
	if s == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidInput)
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrInvalidInput)
	}

	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor timestamp", domain.ErrInvalidInput)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor job id", domain.ErrInvalidInput)
	}

	return &domain.JobCursor{
		EnqueuedAt: time.Unix(0, nanos).UTC(),
		JobID:      id,
	}, nil
}

// EncodeCursor renders the position after job as an opaque cursor
func EncodeCursor(c domain.JobCursor) string {
	raw := fmt.Sprintf("%d|%s", c.EnqueuedAt.UnixNano(), c.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}
