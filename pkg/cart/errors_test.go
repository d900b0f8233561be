package cart

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(KindInsufficientStock, OpAdd, "requested %d", 3))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Equal(t, "outer: add: requested 3", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("serialization failure")
	err := Wrap(KindStoreConflict, "store", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStoreConflict)
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(cause))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil:                                   http.StatusOK,
		Errorf(KindNotFound, OpRemove, "x"):    http.StatusNotFound,
		Errorf(KindInsufficientStock, "", "x"): http.StatusBadRequest,
		Errorf(KindBadRequest, "", "x"):        http.StatusBadRequest,
		Errorf(KindConflict, "", "x"):          http.StatusConflict,
		Errorf(KindStoreConflict, "", "x"):     http.StatusConflict,
		Errorf(KindUnauthorized, "", "x"):      http.StatusUnauthorized,
		errors.New("disk on fire"):            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "%v", err)
	}
}

func TestDescribe(t *testing.T) {
	f := Describe(Errorf(KindNotFound, OpRemove, "product p1 is not in the cart"))
	assert.Equal(t, Failure{ErrorCode: "NOT_FOUND", Message: "product p1 is not in the cart"}, f)

	f = Describe(fmt.Errorf("cart add: %w", errors.New("pq: password authentication failed")))
	assert.Equal(t, Failure{ErrorCode: "INTERNAL", Message: "internal error"}, f)
}
