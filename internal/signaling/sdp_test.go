package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwxyz012345\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC:DD\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestParseSessionInfoExtractsICEAndFingerprint(t *testing.T) {
	info, err := ParseSessionInfo(sampleOffer)
	require.NoError(t, err)

	assert.Equal(t, "abcd", info.ICEUfrag)
	assert.Equal(t, "efghijklmnopqrstuvwxyz012345", info.ICEPwd)
	assert.Equal(t, "sha-256", info.DTLSHashFunction)
	assert.Equal(t, "AA:BB:CC:DD", info.DTLSFingerprint)
	assert.Contains(t, info.AudioPayloadTypes, 111)
}

func TestParseSessionInfoInvalidSDP(t *testing.T) {
	_, err := ParseSessionInfo("not an sdp")
	assert.Error(t, err)
}

const noAudioOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwxyz012345\r\n"

func TestParseSessionInfoNoAudioSectionErrors(t *testing.T) {
	_, err := ParseSessionInfo(noAudioOffer)
	assert.ErrorIs(t, err, ErrNoOpusAudioSection)
}

const nonOpusOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:efghijklmnopqrstuvwxyz012345\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestParseSessionInfoNonOpusCodecErrors(t *testing.T) {
	_, err := ParseSessionInfo(nonOpusOffer)
	assert.ErrorIs(t, err, ErrNoOpusAudioSection)
}
