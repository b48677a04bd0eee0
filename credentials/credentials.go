// Package credentials implements the §4.6 authentication-variant matrix
// and the §6.1 connection-string parser.
package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nytrix-io/iotcore/common"
)

// Kind is one of the §4.6 authentication variants.
type Kind uint8

const (
	KindDeviceKey Kind = iota
	KindDeviceSASToken
	KindDeviceAuth
	KindX509
	KindX509ECC
)

// Credentials is the §6.5 credential-store collaborator interface: it
// produces the Authorization material a transport needs for a request, or
// reports that none applies (X.509 variants authenticate at the TLS layer).
type Credentials interface {
	Kind() Kind
	DeviceID() string
	HostName() string
	// Token mints (or returns verbatim, for device_sas_token) a SAS token
	// scoped to resource, valid for lifetime.
	Token(resource string, lifetime time.Duration) (string, error)
	// Certificate returns the X.509 credential pair, valid only for the
	// x509/x509_ecc variants.
	Certificate() *tls.Certificate
}

var validate = validator.New()

// ConnectionString is the parsed form of a §6.1 connection string.
type ConnectionString struct {
	HostName               string `validate:"required,containsdot"`
	GatewayHostName        string
	DeviceID               string `validate:"required"`
	SharedAccessKey        string
	SharedAccessSignature  string
	X509                   bool
}

func init() {
	_ = validate.RegisterValidation("containsdot", func(fl validator.FieldLevel) bool {
		return strings.Contains(fl.Field().String(), ".")
	})
}

// ParseConnectionString parses a semicolon-delimited key=value connection
// string per §6.1. Exactly one of SharedAccessKey, SharedAccessSignature,
// or x509=true must be present; HostName must contain a "." separator.
func ParseConnectionString(cs string) (*ConnectionString, error) {
	out := &ConnectionString{}
	seen := map[string]bool{}
	for _, chunk := range strings.Split(cs, ";") {
		if chunk == "" {
			continue
		}
		kv := strings.SplitN(chunk, "=", 2)
		if len(kv) != 2 {
			return nil, common.NewError(common.KindInvalidArg, "malformed connection string chunk: "+chunk)
		}
		key, val := kv[0], kv[1]
		seen[key] = true
		switch key {
		case "HostName":
			out.HostName = val
		case "DeviceId":
			out.DeviceID = val
		case "SharedAccessKey":
			out.SharedAccessKey = val
		case "SharedAccessSignature":
			out.SharedAccessSignature = val
		case "GatewayHostName":
			out.GatewayHostName = val
		case "x509":
			if val != "true" {
				return nil, common.NewError(common.KindInvalidArg, "x509 must be \"true\" or omitted")
			}
			out.X509 = true
		}
	}

	n := 0
	if out.SharedAccessKey != "" {
		n++
	}
	if out.SharedAccessSignature != "" {
		n++
	}
	if out.X509 {
		n++
	}
	if n != 1 {
		return nil, common.NewError(common.KindInvalidArg,
			"exactly one of SharedAccessKey, SharedAccessSignature, or x509=true is required")
	}

	if err := validate.Struct(out); err != nil {
		return nil, common.Wrap(common.KindInvalidArg, "invalid connection string", err)
	}
	return out, nil
}

// EffectiveHostName is the GatewayHostName if set, else HostName.
func (cs *ConnectionString) EffectiveHostName() string {
	if cs.GatewayHostName != "" {
		return cs.GatewayHostName
	}
	return cs.HostName
}

// signHMAC implements the SharedAccessSignature scheme common to both the
// device_key and device_auth variants: HMAC-SHA256 over "<uri>\n<expiry>"
// using a base64-decoded key.
func signHMAC(uri string, expiry int64, keyB64, keyName string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", common.Wrap(common.KindError, "decode shared access key", err)
	}
	sr := url.QueryEscape(uri)
	toSign := fmt.Sprintf("%s\n%d", sr, expiry)
	h := hmac.New(sha256.New, key)
	if _, err := h.Write([]byte(toSign)); err != nil {
		return "", common.Wrap(common.KindError, "sign sas token", err)
	}
	sig := base64.StdEncoding.EncodeToString(h.Sum(nil))
	tok := "SharedAccessSignature sr=" + sr + "&sig=" + url.QueryEscape(sig) + "&se=" + strconv.FormatInt(expiry, 10)
	if keyName != "" {
		tok += "&skn=" + url.QueryEscape(keyName)
	}
	return tok, nil
}

// SharedAccessKeyCredentials implements the device_key variant: every
// request is signed with a long-lived symmetric key.
type SharedAccessKeyCredentials struct {
	Host     string
	Device   string
	Key      string
	KeyName  string
}

func (c *SharedAccessKeyCredentials) Kind() Kind         { return KindDeviceKey }
func (c *SharedAccessKeyCredentials) DeviceID() string   { return c.Device }
func (c *SharedAccessKeyCredentials) HostName() string   { return c.Host }
func (c *SharedAccessKeyCredentials) Certificate() *tls.Certificate { return nil }

func (c *SharedAccessKeyCredentials) Token(resource string, lifetime time.Duration) (string, error) {
	return signHMAC(resource, time.Now().Add(lifetime).Unix(), c.Key, c.KeyName)
}

// SharedAccessSignatureCredentials implements the device_sas_token
// variant: the application supplies a ready-made SAS token, used verbatim
// and refreshed by the application replacing the stored value.
type SharedAccessSignatureCredentials struct {
	Host   string
	Device string
	Token_ string
}

func (c *SharedAccessSignatureCredentials) Kind() Kind       { return KindDeviceSASToken }
func (c *SharedAccessSignatureCredentials) DeviceID() string { return c.Device }
func (c *SharedAccessSignatureCredentials) HostName() string { return c.Host }
func (c *SharedAccessSignatureCredentials) Certificate() *tls.Certificate { return nil }

func (c *SharedAccessSignatureCredentials) Token(string, time.Duration) (string, error) {
	return c.Token_, nil
}

// SetToken replaces the stored SAS token, e.g. after the application
// refreshes it out of band.
func (c *SharedAccessSignatureCredentials) SetToken(token string) {
	c.Token_ = token
}

// DeviceAuthCredentials implements the device_auth variant: a hub-auth
// module mints a SAS token bound to "hostname/devices/<id>" with an
// hour-forward expiry, on demand.
type DeviceAuthCredentials struct {
	Host   string
	Device string
	// Mint is the hub-auth module's token-minting hook; it receives the
	// fully-qualified resource URI and must return a signed token string.
	Mint func(resource string, expiry time.Time) (string, error)
}

func (c *DeviceAuthCredentials) Kind() Kind       { return KindDeviceAuth }
func (c *DeviceAuthCredentials) DeviceID() string { return c.Device }
func (c *DeviceAuthCredentials) HostName() string { return c.Host }
func (c *DeviceAuthCredentials) Certificate() *tls.Certificate { return nil }

func (c *DeviceAuthCredentials) Token(resource string, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return c.Mint(resource, time.Now().Add(lifetime))
}

// X509Credentials implements the x509/x509_ecc variants: no Authorization
// header is sent, the certificate authenticates at the TLS layer.
type X509Credentials struct {
	Host   string
	Device string
	Cert   *tls.Certificate
	ECC    bool
}

func (c *X509Credentials) Kind() Kind {
	if c.ECC {
		return KindX509ECC
	}
	return KindX509
}
func (c *X509Credentials) DeviceID() string                 { return c.Device }
func (c *X509Credentials) HostName() string                 { return c.Host }
func (c *X509Credentials) Certificate() *tls.Certificate     { return c.Cert }
func (c *X509Credentials) Token(string, time.Duration) (string, error) { return "", nil }
