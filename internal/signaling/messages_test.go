package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrBadClient:       400,
		ErrAuthFail:        401,
		ErrNotInMeeting:    404,
		ErrEngineTransient: 503,
		ErrEngineFatal:     500,
		ErrOverload:        503,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), "code=%s", code)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{Type: TypeJoin, MeetingID: "m1", UserID: "a", Token: "t"}
	raw, err := marshal(f)
	assert.NoError(t, err)

	got, err := unmarshal(raw)
	assert.NoError(t, err)
	assert.Equal(t, f, got)
}
