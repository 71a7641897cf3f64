// Package idcodec reversibly encodes internal numeric run IDs into the opaque
// string tokens exposed to clients.
package idcodec

import (
	"github.com/pkg/errors"
	hashids "github.com/speps/go-hashids/v2"
)

// ErrMalformedToken is returned when a token cannot be decoded at all. Callers
// must surface this as an invalid reference, distinct from a lookup miss.
var ErrMalformedToken = errors.New("malformed id token")

const minTokenLength = 8

// Codec converts between internal int64 IDs and external tokens.
type Codec struct {
	h *hashids.HashID
}

// New builds a codec with the given salt. The salt must stay stable for the
// lifetime of a deployment or previously issued tokens stop resolving.
func New(salt string) (*Codec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = minTokenLength
	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, errors.Wrap(err, "initializing id codec")
	}
	return &Codec{h: h}, nil
}

// Encode converts an internal ID into its external token.
func (c *Codec) Encode(id int64) (string, error) {
	if id < 0 {
		return "", errors.Errorf("cannot encode negative id %d", id)
	}
	token, err := c.h.EncodeInt64([]int64{id})
	if err != nil {
		return "", errors.Wrapf(err, "encoding id %d", id)
	}
	return token, nil
}

// Decode converts an external token back into the internal ID. Any token that
// does not decode to exactly one non-negative integer is malformed.
func (c *Codec) Decode(token string) (int64, error) {
	if token == "" {
		return 0, ErrMalformedToken
	}
	ids, err := c.h.DecodeInt64WithError(token)
	if err != nil || len(ids) != 1 || ids[0] < 0 {
		return 0, ErrMalformedToken
	}
	return ids[0], nil
}
