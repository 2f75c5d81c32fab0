package paxos

import (
	"strconv"

	"github.com/pkg/errors"
)

func parseInt(s string, out *int64) (int64, error) {
	if s == "" {
		*out = 0
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "paxos: parse integer field %q", s)
	}
	*out = v
	return v, nil
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
