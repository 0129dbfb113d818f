package openhim

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/datim/adx-mediator/internal/errs"
)

// Header names the core API checks on every authenticated call.
const (
	HeaderUsername = "auth-username"
	HeaderTS       = "auth-ts"
	HeaderSalt     = "auth-salt"
	HeaderToken    = "auth-token"
)

type authChallenge struct {
	Salt string `json:"salt"`
	TS   string `json:"ts"`
}

// authenticate fetches the user's password salt and returns a fresh set of
// auth headers. The core API expects a new request salt and timestamp on every call.
func (c *Client) authenticate(ctx context.Context) (http.Header, error) {
	res, err := c.doer.Do(ctx, requestGet(c.apiURL+"/authenticate/"+url.PathEscape(c.username)))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, errs.Transport(nil, "openhim authenticate rejected", map[string]any{
			"status_code": res.StatusCode,
			"username":    c.username,
		})
	}

	var challenge authChallenge
	if err := json.Unmarshal(res.Body, &challenge); err != nil {
		return nil, errs.Parse(err, "decode openhim auth challenge", nil)
	}
	if challenge.Salt == "" {
		return nil, errs.Parse(nil, "openhim auth challenge has no salt", nil)
	}

	requestSalt := uuid.NewString()
	requestTS := c.now().UTC().Format(time.RFC3339Nano)

	headers := http.Header{}
	headers.Set(HeaderUsername, c.username)
	headers.Set(HeaderTS, requestTS)
	headers.Set(HeaderSalt, requestSalt)
	headers.Set(HeaderToken, AuthToken(challenge.Salt, c.password, requestSalt, requestTS))
	return headers, nil
}

// AuthToken is sha512(sha512(salt+password) + requestSalt + requestTS), hex encoded.
func AuthToken(salt, password, requestSalt, requestTS string) string {
	passHash := sha512Hex(salt + password)
	return sha512Hex(passHash + requestSalt + requestTS)
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
