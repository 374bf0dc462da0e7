package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = InvalidInput("sample failure")

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("x")))
	assert.Equal(t, KindGatewayFailure, KindOf(fmt.Errorf("outer: %w", Gateway("boom", errors.New("io")))))
	assert.Equal(t, KindPersistenceFailure, KindOf(errors.New("pg down")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	cause := errors.New("stock=1")
	err := fmt.Errorf("add item: %w", Wrap(errSample, cause))

	assert.ErrorIs(t, err, errSample)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sample failure", MessageOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:           http.StatusNotFound,
		KindInvalidInput:       http.StatusBadRequest,
		KindConflict:           http.StatusConflict,
		KindGatewayFailure:     http.StatusBadGateway,
		KindPersistenceFailure: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}
