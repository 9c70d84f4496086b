package signaling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrNoOpusAudioSection is returned by ParseSessionInfo when the offer/answer
// has no audio m-section, or none of its rtpmap entries name the opus codec
// (spec §6.2's mandatory edge case: extraction must fail closed, surfaced by
// callers as error{400} BadClient).
var ErrNoOpusAudioSection = errors.New("sdp: no opus audio section")

// SessionInfo is the subset of an SDP offer/answer spec §6.2 requires the
// signaling layer to be able to read without depending on a concrete media
// transport: negotiated codecs, DTLS fingerprint, and ICE credentials.
type SessionInfo struct {
	AudioPayloadTypes []int
	DTLSFingerprint   string
	DTLSHashFunction  string
	ICEUfrag          string
	ICEPwd            string
}

// ParseSessionInfo extracts SessionInfo from a raw SDP body using
// pion/sdp/v3, rather than hand-rolling a parser. It fails with
// ErrNoOpusAudioSection when the SDP is well-formed but carries no audio
// section negotiating opus, since this SFU forwards Opus only.
func ParseSessionInfo(raw string) (SessionInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return SessionInfo{}, fmt.Errorf("parse sdp: %w", err)
	}

	var info SessionInfo
	hasOpus := false

	if ufrag, ok := sd.Attribute("ice-ufrag"); ok {
		info.ICEUfrag = ufrag
	}
	if pwd, ok := sd.Attribute("ice-pwd"); ok {
		info.ICEPwd = pwd
	}
	if fp, ok := sd.Attribute("fingerprint"); ok {
		parseFingerprint(fp, &info)
	}

	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}
		if info.ICEUfrag == "" {
			if ufrag, ok := m.Attribute("ice-ufrag"); ok {
				info.ICEUfrag = ufrag
			}
		}
		if info.ICEPwd == "" {
			if pwd, ok := m.Attribute("ice-pwd"); ok {
				info.ICEPwd = pwd
			}
		}
		if info.DTLSFingerprint == "" {
			if fp, ok := m.Attribute("fingerprint"); ok {
				parseFingerprint(fp, &info)
			}
		}
		for _, fmtStr := range m.MediaName.Formats {
			var pt int
			if _, err := fmt.Sscanf(fmtStr, "%d", &pt); err == nil {
				info.AudioPayloadTypes = append(info.AudioPayloadTypes, pt)
			}
		}
		for _, attr := range m.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			if strings.Contains(strings.ToLower(attr.Value), "opus") {
				hasOpus = true
			}
		}
	}

	if !hasOpus {
		return SessionInfo{}, ErrNoOpusAudioSection
	}

	return info, nil
}

func parseFingerprint(attr string, info *SessionInfo) {
	var hashFunc, fp string
	if _, err := fmt.Sscanf(attr, "%s %s", &hashFunc, &fp); err == nil {
		info.DTLSHashFunction = hashFunc
		info.DTLSFingerprint = fp
	}
}
