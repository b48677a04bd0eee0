// Package http implements the §4.6 HTTP transport dialect: URL/header
// composition, batched/single-send device-to-cloud POST, poll-based
// cloud-to-device receive with ETag disposition.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nytrix-io/iotcore/common"
	"github.com/nytrix-io/iotcore/credentials"
	"github.com/nytrix-io/iotcore/logger"
	"github.com/nytrix-io/iotcore/transport"
)

// APIVersion is the compile-time wire API version (§6.2).
const APIVersion = "2016-11-14"

// MaxBatchSize is the hard cap on a batched send body: 255*1024 - 1 bytes.
const MaxBatchSize = 255*1024 - 1

const perMessageOverhead = 384
const perPropertyOverhead = 16

// TransportOption configures a Transport at construction time.
type TransportOption func(*Transport)

// WithLogger sets the diagnostic logger.
func WithLogger(l logger.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// WithHTTPClient overrides the underlying retryable HTTP client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.client.HTTPClient = c }
}

// WithTLSConfig sets the TLS config used for every request.
func WithTLSConfig(cfg *tls.Config) TransportOption {
	return func(t *Transport) { t.tls = cfg }
}

// WithBatching enables or disables device-to-cloud batching (§4.2
// "batching" option; also settable later via SetOption).
func WithBatching(enabled bool) TransportOption {
	return func(t *Transport) { t.batching = enabled }
}

// WithMinPollingInterval sets the C2D receive poll floor.
func WithMinPollingInterval(d time.Duration) TransportOption {
	return func(t *Transport) { t.minPoll = d }
}

// WithSASTTL sets the lifetime requested for minted SAS tokens.
func WithSASTTL(d time.Duration) TransportOption {
	return func(t *Transport) { t.sasTTL = d }
}

// registration is a per-device record (§3 "Transport").
type registration struct {
	id          string
	creds       credentials.Credentials
	queue       *transport.SendQueue
	lastPollAt  time.Time
	everPolled  bool
}

func (r *registration) DeviceID() string { return r.id }

// Transport implements transport.Transport for the HTTP dialect.
type Transport struct {
	logger logger.Logger
	client *retryablehttp.Client
	tls    *tls.Config

	mu       sync.Mutex
	regs     map[string]*registration
	cb       transport.Callbacks
	batching bool
	minPoll  time.Duration
	sasTTL   time.Duration
	product  string

	// TLS/proxy/dial knobs settable at runtime via SetOption (§4.2
	// x509_cert/x509_private_key/trusted_certs/http_proxy/network_interface);
	// rebuildTransport() re-derives rc.HTTPClient.Transport from these
	// whenever one changes.
	certPEM          string
	keyPEM           string
	trustedCertsPEM  string
	proxyURL         *url.URL
	networkInterface string
	opensslKeyType   string
	opensslEngine    string
}

// New returns a new HTTP transport.
func New(opts ...TransportOption) *Transport {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	t := &Transport{
		client:  rc,
		regs:    map[string]*registration{},
		minPoll: 10 * time.Second,
		sasTTL:  30 * time.Second,
		logger:  logger.NewFromEnv("IOTCORE_LOG_LEVEL"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tls == nil {
		t.tls = &tls.Config{RootCAs: common.RootCAs()}
	}
	rc.HTTPClient.Transport = &http.Transport{TLSClientConfig: t.tls}
	return t
}

// rebuildTransport re-derives rc.HTTPClient.Transport from the current
// TLS/proxy/dial-interface knobs. Called whenever SetOption changes one
// of x509_cert, x509_private_key, trusted_certs, http_proxy, or
// network_interface (§4.2); a WithTLSConfig caller's explicit t.tls is
// left alone unless a cert/trust option is set after construction.
func (t *Transport) rebuildTransport() error {
	if t.certPEM != "" || t.keyPEM != "" || t.trustedCertsPEM != "" {
		cfg, err := common.ClientTLSConfig(t.certPEM, t.keyPEM, t.trustedCertsPEM)
		if err != nil {
			return common.Wrap(common.KindError, "rebuild tls config", err)
		}
		t.tls = cfg
	}

	ht := &http.Transport{TLSClientConfig: t.tls}
	if t.proxyURL != nil {
		ht.Proxy = http.ProxyURL(t.proxyURL)
	}
	if t.networkInterface != "" {
		dial, err := common.DialerForInterface(t.networkInterface)
		if err != nil {
			return common.Wrap(common.KindError, "bind network_interface", err)
		}
		ht.DialContext = dial
	}
	t.client.HTTPClient.Transport = ht
	return nil
}

// verboseLogAdapter adapts logger.Logger to the retryablehttp.Logger
// interface for the §4.2 "curl_verbose" option.
type verboseLogAdapter struct{ l logger.Logger }

func (a *verboseLogAdapter) Printf(format string, v ...interface{}) { a.l.Debugf(format, v...) }

func (t *Transport) SetLogger(l logger.Logger) { t.logger = l }

func (t *Transport) SetCallbackContext(cb transport.Callbacks) { t.cb = cb }

func (t *Transport) Register(cfg transport.DeviceConfig, queue *transport.SendQueue) (transport.DeviceHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := cfg.Credentials.DeviceID()
	if _, ok := t.regs[id]; ok {
		return nil, common.NewError(common.KindError, "device already registered: "+id)
	}
	r := &registration{id: id, creds: cfg.Credentials, queue: queue}
	t.regs[id] = r
	return r, nil
}

func (t *Transport) Unregister(dh transport.DeviceHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.regs, dh.DeviceID())
	return nil
}

// Subscribe/Unsubscribe are no-ops for the HTTP dialect: C2D traffic is
// polled from DoWork, with no separate subscription handshake over HTTP.
// The HTTP dialect carries no twin or method traffic: SubscribeTwin and
// SubscribeMethods return transport.ErrNotSupported.
func (t *Transport) Subscribe(transport.DeviceHandle) error         { return nil }
func (t *Transport) Unsubscribe(transport.DeviceHandle) error       { return nil }
func (t *Transport) SubscribeTwin(transport.DeviceHandle) error     { return transport.ErrNotSupported }
func (t *Transport) UnsubscribeTwin(transport.DeviceHandle) error   { return nil }
func (t *Transport) SubscribeMethods(transport.DeviceHandle) error  { return transport.ErrNotSupported }
func (t *Transport) UnsubscribeMethods(transport.DeviceHandle) error { return nil }

func (t *Transport) GetSendStatus(dh transport.DeviceHandle) transport.SendStatus {
	r, ok := t.reg(dh.DeviceID())
	if !ok || r.queue.Len() == 0 {
		return transport.SendStatusIdle
	}
	return transport.SendStatusBusy
}

func (t *Transport) GetHostname() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.regs {
		return r.creds.HostName()
	}
	return ""
}

func (t *Transport) reg(id string) (*registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regs[id]
	return r, ok
}

// DoWork drains dh's send queue and polls its C2D inbox. Each HTTP call
// blocks for at most the fixed 30-second deadline set in send.
func (t *Transport) DoWork(dh transport.DeviceHandle) {
	r, ok := t.reg(dh.DeviceID())
	if !ok {
		return
	}
	t.drainSend(r)
	t.pollReceive(r)
}

func (t *Transport) eventEndpoint(deviceID string) string {
	return fmt.Sprintf("/devices/%s/messages/events?api-version=%s", url.PathEscape(deviceID), APIVersion)
}

func (t *Transport) c2dEndpoint(deviceID string) string {
	return fmt.Sprintf("/devices/%s/messages/devicebound?api-version=%s", url.PathEscape(deviceID), APIVersion)
}

func (t *Transport) dispositionPrefix(deviceID string) string {
	return fmt.Sprintf("/devices/%s/messages/devicebound/", url.PathEscape(deviceID))
}

func (t *Transport) userAgent() string {
	if t.product != "" {
		return t.product
	}
	if t.cb != nil {
		if s := t.cb.GetProductInfo(); s != "" {
			return s
		}
	}
	return "iotcore/1.0"
}

func (t *Transport) authHeader(r *registration) (string, error) {
	if r.creds.Kind() == credentials.KindX509 || r.creds.Kind() == credentials.KindX509ECC {
		return "", nil
	}
	resource := fmt.Sprintf("%s/devices/%s", r.creds.HostName(), r.creds.DeviceID())
	return r.creds.Token(resource, t.sasTTL)
}

type batchElement struct {
	Body          string            `json:"body"`
	Base64Encoded *bool             `json:"base64Encoded,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

func elementSize(msg *common.Message) int {
	size := perMessageOverhead
	if b, err := msg.GetByteArray(); err == nil {
		size += len(b)
	} else if s, err := msg.GetString(); err == nil {
		size += len(s)
	}
	for k, v := range msg.Properties {
		size += len(k) + len(v) + perPropertyOverhead
	}
	return size
}

func propsToHeaders(msg *common.Message) map[string]string {
	h := map[string]string{}
	for k, v := range msg.Properties {
		h["iothub-app-"+k] = v
	}
	if msg.System.MessageID != "" {
		h["iothub-messageid"] = msg.System.MessageID
	}
	if msg.System.CorrelationID != "" {
		h["iothub-correlationid"] = msg.System.CorrelationID
	}
	if msg.System.ContentType != "" {
		h["iothub-contenttype"] = msg.System.ContentType
	}
	if msg.System.ContentEncoding != "" {
		h["iothub-contentencoding"] = msg.System.ContentEncoding
	}
	return h
}

func (t *Transport) drainSend(r *registration) {
	if r.queue.Len() == 0 {
		return
	}

	// Pre-check: an oversize item as the sole/first queue entry fails
	// immediately rather than blocking the rest of the queue forever.
	if first := r.queue.Peek(); first != nil && elementSize(first.Message) > MaxBatchSize {
		r.queue.PopFront()
		t.completeOne(first, common.ConfirmationError)
		return
	}

	if t.batching {
		t.drainBatched(r)
	} else {
		t.drainSingle(r)
	}
}

func (t *Transport) drainBatched(r *registration) {
	var batch []*transport.SendRequest
	total := 0
	for {
		next := r.queue.Peek()
		if next == nil {
			break
		}
		size := elementSize(next.Message)
		if total+size > MaxBatchSize {
			break
		}
		total += size
		batch = append(batch, next)
		r.queue.PopFront()
	}
	if len(batch) == 0 {
		return
	}

	elems := make([]batchElement, len(batch))
	for i, req := range batch {
		appProps := map[string]string{}
		for k, v := range req.Message.Properties {
			appProps["iothub-app-"+k] = v
		}
		if b, err := req.Message.GetByteArray(); err == nil {
			elems[i] = batchElement{Body: base64.StdEncoding.EncodeToString(b), Properties: appProps}
		} else {
			s, _ := req.Message.GetString()
			f := false
			elems[i] = batchElement{Body: s, Base64Encoded: &f, Properties: appProps}
		}
	}
	body, err := json.Marshal(elems)
	if err != nil {
		t.logger.Errorf("marshal batch: %v", err)
		return
	}

	headers := map[string]string{
		"Content-Type": "application/vnd.microsoft.iothub.json",
		"iothub-to":    fmt.Sprintf("/devices/%s/messages/events", r.id),
		"Accept":       "application/json",
		"Connection":   "Keep-Alive",
		"User-Agent":   t.userAgent(),
	}
	_, _, err = t.send(r, http.MethodPost, t.eventEndpoint(r.id), headers, body)
	result := common.ConfirmationOK
	if err != nil {
		t.logger.Warnf("batched send failed: %v", err)
		result = common.ConfirmationError
	}
	for _, req := range batch {
		t.completeOne(req, result)
	}
}

func (t *Transport) drainSingle(r *registration) {
	req := r.queue.PopFront()
	if req == nil {
		return
	}
	if elementSize(req.Message) > MaxBatchSize {
		t.completeOne(req, common.ConfirmationError)
		return
	}

	headers := propsToHeaders(req.Message)
	headers["iothub-to"] = fmt.Sprintf("/devices/%s/messages/events", r.id)
	headers["Accept"] = "application/json"
	headers["Connection"] = "Keep-Alive"
	headers["User-Agent"] = t.userAgent()

	var body []byte
	if b, err := req.Message.GetByteArray(); err == nil {
		headers["Content-Type"] = "application/octet-stream"
		body = b
	} else {
		s, _ := req.Message.GetString()
		body = []byte(s)
	}

	_, _, err := t.send(r, http.MethodPost, t.eventEndpoint(r.id), headers, body)
	result := common.ConfirmationOK
	if err != nil {
		result = common.ConfirmationError
	}
	t.completeOne(req, result)
}

func (t *Transport) completeOne(req *transport.SendRequest, result common.ConfirmationKind) {
	if t.cb != nil {
		t.cb.OnSendComplete([]*transport.SendRequest{req}, result)
	} else if req.Callback != nil {
		req.Callback(result, req.UserContext)
	}
}

// pollReceive honors the §4.6 polling floor: a GET is issued only when
// more than minPoll has elapsed since the previous poll (the very first
// poll is always allowed).
func (t *Transport) pollReceive(r *registration) {
	if r.everPolled && time.Since(r.lastPollAt) < t.minPoll {
		return
	}
	r.lastPollAt = time.Now()
	r.everPolled = true

	status, headers, body, err := t.send(r, http.MethodGet, t.c2dEndpoint(r.id), nil, nil)
	if err != nil {
		t.logger.Warnf("c2d poll failed: %v", err)
		return
	}
	switch status {
	case http.StatusNoContent:
		return
	case http.StatusOK:
		t.handleReceived(r, headers, body)
	default:
		t.logger.Infof("c2d poll: unexpected status %d", status)
	}
}

func (t *Transport) handleReceived(r *registration, headers http.Header, body []byte) {
	etagRaw := headers.Get("ETag")
	if len(etagRaw) < 2 || etagRaw[0] != '"' || etagRaw[len(etagRaw)-1] != '"' {
		t.logger.Warnf("c2d message missing well-formed ETag, abandoning")
		t.abandon(r, etagRaw)
		return
	}
	etag := etagRaw[1 : len(etagRaw)-1]

	msg := common.NewFromByteArray(body)
	for k := range headers {
		kl := strings.ToLower(k)
		v := headers.Get(k)
		switch {
		case strings.HasPrefix(kl, "iothub-app-"):
			msg.AddOrUpdateProperty(k[len("iothub-app-"):], v)
		case kl == "iothub-messageid":
			msg.System.MessageID = v
		case kl == "iothub-correlationid":
			msg.System.CorrelationID = v
		case kl == "contenttype":
			msg.System.ContentType = v
		case kl == "contentencoding":
			msg.System.ContentEncoding = v
		}
	}

	info := &transport.MessageInfo{Context: dispositionContext{reg: r, etag: etag}}
	accepted := true
	if t.cb != nil {
		accepted = t.cb.OnMessage(info, msg)
	}
	if !accepted {
		t.abandon(r, etag)
	}
}

type dispositionContext struct {
	reg  *registration
	etag string
}

func (t *Transport) abandon(r *registration, etag string) {
	if etag == "" {
		return
	}
	_ = t.SendMessageDisposition(&transport.MessageInfo{Context: dispositionContext{reg: r, etag: etag}}, common.DispositionAbandoned)
}

func (t *Transport) SendMessageDisposition(info *transport.MessageInfo, disposition common.Disposition) error {
	dc, ok := info.Context.(dispositionContext)
	if !ok {
		return common.NewError(common.KindInvalidArg, "invalid message info")
	}
	target := t.dispositionPrefix(dc.reg.id) + dc.etag
	method := http.MethodDelete
	switch disposition {
	case common.DispositionAccepted:
		target += "?api-version=" + APIVersion
	case common.DispositionRejected:
		target += "?api-version=" + APIVersion + "&reject"
	case common.DispositionAbandoned:
		target += "/abandon?api-version=" + APIVersion
		method = http.MethodPost
	default:
		return common.NewError(common.KindInvalidArg, "unrecognized disposition")
	}

	headers := map[string]string{
		"If-Match":   `"` + dc.etag + `"`,
		"User-Agent": t.userAgent(),
	}
	status, _, _, err := t.send(dc.reg, method, target, headers, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return common.NewError(common.KindError, fmt.Sprintf("disposition failed: status %d", status))
	}
	return nil
}

func (t *Transport) DeviceMethodResponse(dh transport.DeviceHandle, methodID string, response []byte, status int) error {
	return transport.ErrNotSupported
}

func (t *Transport) RegisterDirectMethods(transport.DeviceHandle) error { return transport.ErrNotSupported }

func (t *Transport) ProcessItem(kind transport.ProcessItemKind, item interface{}) (transport.ProcessItemResult, error) {
	return transport.ProcessItemError, transport.ErrNotSupported
}

func (t *Transport) SetOption(name string, value interface{}) error {
	switch name {
	case "batching":
		if b, ok := value.(bool); ok {
			t.batching = b
			return nil
		}
		return common.NewError(common.KindInvalidArg, "batching expects bool")
	case "min_polling_time":
		switch v := value.(type) {
		case int:
			t.minPoll = time.Duration(v) * time.Second
			return nil
		case time.Duration:
			t.minPoll = v
			return nil
		}
		return common.NewError(common.KindInvalidArg, "min_polling_time expects seconds")
	case "product_info":
		if s, ok := value.(string); ok {
			t.product = s
			return nil
		}
		return common.NewError(common.KindInvalidArg, "product_info expects string")
	case "x509_cert":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "x509_cert expects string")
		}
		t.mu.Lock()
		t.certPEM = s
		err := t.rebuildTransport()
		t.mu.Unlock()
		return err
	case "x509_private_key":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "x509_private_key expects string")
		}
		t.mu.Lock()
		t.keyPEM = s
		err := t.rebuildTransport()
		t.mu.Unlock()
		return err
	case "trusted_certs":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "trusted_certs expects string")
		}
		t.mu.Lock()
		t.trustedCertsPEM = s
		err := t.rebuildTransport()
		t.mu.Unlock()
		return err
	case "http_proxy":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "http_proxy expects string")
		}
		u, err := url.Parse(s)
		if err != nil {
			return common.Wrap(common.KindInvalidArg, "parse http_proxy", err)
		}
		t.mu.Lock()
		t.proxyURL = u
		err = t.rebuildTransport()
		t.mu.Unlock()
		return err
	case "network_interface":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "network_interface expects string")
		}
		t.mu.Lock()
		t.networkInterface = s
		err := t.rebuildTransport()
		t.mu.Unlock()
		return err
	case "curl_verbose":
		v, ok := value.(bool)
		if !ok {
			return common.NewError(common.KindInvalidArg, "curl_verbose expects bool")
		}
		t.mu.Lock()
		if v {
			t.client.Logger = &verboseLogAdapter{l: t.logger}
		} else {
			t.client.Logger = nil
		}
		t.mu.Unlock()
		return nil
	case "openssl_private_key_type", "openssl_engine":
		// No pure-Go equivalent to an OpenSSL-engine-backed key exists;
		// stored for introspection only, never wired into TLS material.
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, name+" expects string")
		}
		t.mu.Lock()
		if name == "openssl_private_key_type" {
			t.opensslKeyType = s
		} else {
			t.opensslEngine = s
		}
		t.mu.Unlock()
		return nil
	default:
		return common.NewError(common.KindInvalidArg, "unrecognized option: "+name)
	}
}

func (t *Transport) SetRetryPolicy(name string, timeoutSecs int) error {
	// The HTTP dialect retries transient failures at the request layer
	// via go-retryablehttp; the named §4.2 policy is neither stored nor
	// applied here.
	return nil
}

func (t *Transport) Close() error { return nil }

// send issues one HTTP request against the hub, signing it per the
// registration's credential kind, and returns the raw status/headers/body.
func (t *Transport) send(r *registration, method, path string, headers map[string]string, body []byte) (int, http.Header, []byte, error) {
	target := "https://" + r.creds.HostName() + path

	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := retryablehttp.NewRequest(method, target, rdr)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Authorization") == "" {
		auth, err := t.authHeader(r)
		if err != nil {
			return 0, nil, nil, err
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, buf.Bytes(), nil
}
