package capture

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.Status())
	assert.Equal(t, http.StatusUnauthorized, KindAuth.Status())
	assert.Equal(t, http.StatusTooManyRequests, KindRejected.Status())
	for _, k := range []Kind{KindInternal, KindElementNotFound, KindNavigationTimeout, KindNavigationFailure, KindRender, KindEncoding, KindStorage} {
		assert.Equal(t, http.StatusInternalServerError, k.Status(), k.String())
	}
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}

func TestErrorCarriesURL(t *testing.T) {
	err := newError(KindRender, "https://example.com", errors.New("page crashed"))
	assert.Equal(t, "page crashed (url: https://example.com)", err.Error())
	assert.Equal(t, "page crashed", err.Message())

	wrapped := errors.Wrap(err, "screenshot")
	assert.Equal(t, KindRender, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
