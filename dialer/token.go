// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer

import (
	"fmt"

	"github.com/twilio/twilio-go/client/jwt"
)

// inspectToken sanity-checks an access token issued by the backend before
// it is handed to the voice client. The backend signs its own tokens, so
// an empty secret is passed to skip signature validation; we only verify
// that the token carries a voice grant and, when an identity claim is
// present, that it matches the agent we asked a token for.
//
// A token that does not parse at all is not rejected: the backend may
// switch to an opaque token format, and the voice transport is the final
// authority on token validity.
func inspectToken(tokenString, identity string) (ok bool, err error) {
	accessToken := &jwt.AccessToken{}
	decoded, parseErr := accessToken.FromJwt(tokenString, "")
	if parseErr != nil {
		return false, nil
	}

	if decoded.Identity != "" && decoded.Identity != identity {
		return false, fmt.Errorf("token identity %q does not match agent %q", decoded.Identity, identity)
	}

	for _, grant := range decoded.Grants {
		if _, isVoice := grant.(*jwt.VoiceGrant); isVoice {
			return true, nil
		}
	}
	return false, fmt.Errorf("no voice grant found in token")
}
