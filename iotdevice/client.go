// Package iotdevice implements the §4.2 device-client core: the
// cooperative do_work state machine sitting on top of a pluggable
// transport.Transport, with the twin/method/message dispatch slots of
// mux.go and an independent upload-to-blob sub-handle.
package iotdevice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nytrix-io/iotcore/common"
	"github.com/nytrix-io/iotcore/credentials"
	"github.com/nytrix-io/iotcore/iotutil"
	"github.com/nytrix-io/iotcore/logger"
	"github.com/nytrix-io/iotcore/retry"
	"github.com/nytrix-io/iotcore/transport"
	"github.com/nytrix-io/iotcore/transport/http/blob"
)

// State is the §4.2 client lifecycle position.
type State uint8

const (
	StateUnregistered State = iota
	StateRegistered
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unregistered"
	}
}

// ClientOption configures a Client at construction time.
type ClientOption func(c *Client)

// WithLogger sets the diagnostic logger, shared with the transport.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithProductInfo sets the string reported to transport.Callbacks.GetProductInfo.
func WithProductInfo(s string) ClientOption {
	return func(c *Client) { c.productInfo = s }
}

// WithUploader overrides the blob.Uploader factory used by UploadToBlob;
// by default one is built from the client's own credentials on first use.
func WithUploader(f func(credentials.Credentials) *blob.Uploader) ClientOption {
	return func(c *Client) { c.uploaderFactory = f }
}

// CreateFromConnectionString parses cs (§6.1) and calls Create with the
// resulting credentials.
func CreateFromConnectionString(tr transport.Transport, cs string, opts ...ClientOption) (*Client, error) {
	parsed, err := credentials.ParseConnectionString(cs)
	if err != nil {
		return nil, err
	}
	var creds credentials.Credentials
	switch {
	case parsed.SharedAccessKey != "":
		creds = &credentials.SharedAccessKeyCredentials{
			Host:   parsed.EffectiveHostName(),
			Device: parsed.DeviceID,
			Key:    parsed.SharedAccessKey,
		}
	case parsed.SharedAccessSignature != "":
		creds = &credentials.SharedAccessSignatureCredentials{
			Host:   parsed.EffectiveHostName(),
			Device: parsed.DeviceID,
			Token_: parsed.SharedAccessSignature,
		}
	case parsed.X509:
		creds = &credentials.X509Credentials{
			Host:   parsed.EffectiveHostName(),
			Device: parsed.DeviceID,
		}
	default:
		return nil, common.NewError(common.KindInvalidArg, "connection string names no usable credential variant")
	}
	return Create(tr, creds, opts...)
}

// Create registers creds against tr and returns a ready client (§4.2
// "create" — "never destroy a shared transport on failure": a transport
// passed in by the caller is never closed by a failed Create call).
func Create(tr transport.Transport, creds credentials.Credentials, opts ...ClientOption) (*Client, error) {
	return CreateWithTransport(tr, creds, opts...)
}

// CreateWithTransport is Create with an explicit name matching the §4.2
// operation list; Create is a convenience alias over it.
func CreateWithTransport(tr transport.Transport, creds credentials.Credentials, opts ...ClientOption) (*Client, error) {
	c := &Client{
		tr:          tr,
		creds:       creds,
		logger:      logger.NewFromEnv("IOTCORE_LOG_LEVEL"),
		queue:       transport.NewSendQueue(),
		retryPolicy: retry.New(retry.None, 0),
		productInfo: "iotcore/1.0",
		diagRID:     iotutil.NewRIDGenerator(),
	}
	for _, opt := range opts {
		opt(c)
	}

	tr.SetLogger(c.logger)
	tr.SetCallbackContext(c)

	dh, err := tr.Register(transport.DeviceConfig{Credentials: creds}, c.queue)
	if err != nil {
		return nil, err
	}
	c.dh = dh
	c.state = StateRegistered
	return c, nil
}

// Client is the device-client core (§4.2).
type Client struct {
	tr    transport.Transport
	creds credentials.Credentials
	dh    transport.DeviceHandle

	logger      logger.Logger
	productInfo string

	mu    sync.Mutex
	state State
	queue *transport.SendQueue

	// ackQueue holds completed-but-not-yet-flushed send confirmations;
	// DoWork's last step invokes their callbacks outside the lock (§4.2
	// do_work step 5).
	ackQueue []ackEntry

	twinQueue      []*twinUpdate
	nextTwinItemID uint64

	msgSlot    messageSlot
	twinSlot   twinSlot
	methodSlot methodSlot

	statusCB func(status common.ConnectionStatus, reason common.ConnectionReason)

	retryPolicy *retry.Policy

	diagSamplePct int32
	diagRID       *iotutil.RIDGenerator

	// defaultTimeout is the §4.2 "messageTimeout" default applied to
	// SendEventAsync calls that pass timeout == 0 themselves.
	defaultTimeout time.Duration

	uploaderFactory   func(credentials.Credentials) *blob.Uploader
	blobUploadTimeout time.Duration

	// TLS/proxy/dial knobs mirrored from the transport's own SetOption
	// handling (§4.2) so the upload-to-blob sub-handle's HTTP client can
	// be built with the same defaults; see newUploader.
	certPEM          string
	keyPEM           string
	trustedCertsPEM  string
	proxyURL         *url.URL
	networkInterface string

	closed bool
}

type ackEntry struct {
	req    *transport.SendRequest
	result common.ConfirmationKind
}

// twinUpdate is one queued reported-state push awaiting transport.ProcessItem.
type twinUpdate struct {
	itemID  uint64
	payload []byte
}

// MessageInfo is the public per-delivery handle passed to an
// asynchronously-registered message callback; it wraps the transport's
// opaque confirmation context so SendMessageDisposition can find its way
// back to the right transport call.
type MessageInfo struct {
	info *transport.MessageInfo
}

// tick is the clock source for send-request timeout accounting (§4.2
// do_work step 1/2): the wall-clock time in milliseconds.
func (c *Client) tick() int64 { return time.Now().UnixMilli() }

// Destroy flushes the waiting-to-send queue with a destroy-before-send
// result and releases the transport registration (§4.2 "destroy").
// Destroy never closes a transport the caller supplied; only the
// client's own per-device registration is torn down.
func (c *Client) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDestroying
	drained := c.queue.Drain()
	c.closed = true
	c.state = StateDestroyed
	c.mu.Unlock()

	for _, r := range drained {
		if r.Callback != nil {
			r.Callback(common.ConfirmationDestroy, r.UserContext)
		}
	}
	return c.tr.Unregister(c.dh)
}

// SendEventAsync enqueues msg for delivery (§4.2 "send_event_async"): the
// message is cloned so the caller may reuse or mutate the original, the
// enqueue tick is stamped for later timeout accounting, and diagnostic
// sampling may stamp diag-id/diag-creationtimeutc properties before the
// clone is queued. FIFO order is preserved (§5).
func (c *Client) SendEventAsync(msg *common.Message, timeout time.Duration, callback func(result common.ConfirmationKind, ctx interface{}), userContext interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRegistered {
		return common.NewError(common.KindError, "client is not registered")
	}

	clone := msg.Clone()
	c.applyDiagnosticSampling(clone)
	if clone.System.MessageID == "" {
		clone.System.MessageID = iotutil.UUID()
	}

	effTimeout := timeout
	if effTimeout == 0 {
		effTimeout = c.defaultTimeout
	}
	var timeoutMS int64
	if effTimeout > 0 {
		timeoutMS = effTimeout.Milliseconds()
	}

	c.queue.Push(&transport.SendRequest{
		Message:     clone,
		EnqueueTick: c.tick(),
		TimeoutMS:   timeoutMS,
		Callback:    callback,
		UserContext: userContext,
	})
	return nil
}

// applyDiagnosticSampling stamps diag-id/diag-creationtimeutc properties
// on a sampled percentage of outgoing messages, mirroring the original
// client's diagnostic_sampling_percentage option: a monotone counter
// mod 100 decides which messages in the stream are sampled.
func (c *Client) applyDiagnosticSampling(msg *common.Message) {
	pct := atomic.LoadInt32(&c.diagSamplePct)
	if pct <= 0 {
		return
	}
	n := c.diagRID.NextUint32()
	if int32(n%100) >= pct {
		return
	}
	msg.AddOrUpdateProperty("diag-id", fmt.Sprintf("%08x", n))
	msg.AddOrUpdateProperty("diag-creationtimeutc", time.Now().UTC().Format(time.RFC3339Nano))
}

// SetMessageCallback registers the synchronous cloud-to-device message
// handler; nil unregisters it. Mutually exclusive with
// SetMessageCallbackEx (§4.2).
func (c *Client) SetMessageCallback(cb MessageCallback) error {
	return c.msgSlot.setSync(cb)
}

// SetMessageCallbackEx registers the asynchronous cloud-to-device message
// handler; nil unregisters it. Mutually exclusive with SetMessageCallback.
func (c *Client) SetMessageCallbackEx(cb MessageCallbackEx) error {
	return c.msgSlot.setAsync(cb)
}

// SendMessageDisposition reports the disposition decided for a message
// previously delivered through an asynchronous message callback (§4.2).
func (c *Client) SendMessageDisposition(info *MessageInfo, disposition common.Disposition) error {
	if info == nil || info.info == nil {
		return common.NewError(common.KindInvalidArg, "nil message info")
	}
	return c.tr.SendMessageDisposition(info.info, disposition)
}

// SetConnectionStatusCallback registers the handler invoked whenever the
// transport reports a connection-status change (§4.2).
func (c *Client) SetConnectionStatusCallback(cb func(status common.ConnectionStatus, reason common.ConnectionReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCB = cb
}

// SetRetryPolicy stores the named retry policy on the client (§4.2
// "set_retry_policy"); GetRetryPolicy reports it back. timeoutSecs of
// zero means no upper limit on total elapsed retry time. The policy is
// not forwarded to the transport, and DoWork does not consult it.
func (c *Client) SetRetryPolicy(name retry.Name, timeoutSecs int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryPolicy = retry.New(name, time.Duration(timeoutSecs)*time.Second)
	return nil
}

// GetRetryPolicy reports the currently configured retry policy.
func (c *Client) GetRetryPolicy() (name retry.Name, timeoutSecs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryPolicy.Name(), int(c.retryPolicy.TimeoutLimit() / time.Second)
}

// GetSendStatus reports busy iff the waiting-to-send queue is non-empty
// (§4.2 "get_send_status").
func (c *Client) GetSendStatus() transport.SendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.Len() > 0 {
		return transport.SendStatusBusy
	}
	return transport.SendStatusIdle
}

// SetDeviceTwinCallback registers the handler invoked on every full-twin
// or patch delivery (§4.2 "set_device_twin_callback").
func (c *Client) SetDeviceTwinCallback(cb TwinCallback) error {
	if err := c.twinSlot.set(cb); err != nil {
		return err
	}
	if cb != nil {
		return c.tr.SubscribeTwin(c.dh)
	}
	return c.tr.UnsubscribeTwin(c.dh)
}

// SendReportedState queues a reported-properties payload for delivery via
// transport.ProcessItem (§4.2 "send_reported_state"); itemID identifies
// this push for OnReportedStateComplete.
func (c *Client) SendReportedState(payload []byte) (itemID uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRegistered {
		return 0, common.NewError(common.KindError, "client is not registered")
	}
	c.nextTwinItemID++
	id := c.nextTwinItemID
	c.twinQueue = append(c.twinQueue, &twinUpdate{itemID: id, payload: payload})
	return id, nil
}

// GetTwinAsync calls the transport's SubscribeTwin (§4.2
// "get_twin_async"); a transport that carries twin traffic delivers the
// document through the twin callback as a TwinUpdateComplete delivery.
// No separate one-shot read request is issued, and the HTTP transport
// returns transport.ErrNotSupported.
func (c *Client) GetTwinAsync() error {
	return c.tr.SubscribeTwin(c.dh)
}

// SetDeviceMethodCallback registers the synchronous direct-method
// handler; nil unregisters it. Mutually exclusive with
// SetDeviceMethodCallbackEx (§4.2).
func (c *Client) SetDeviceMethodCallback(cb MethodCallback) error {
	if err := c.methodSlot.setSync(cb); err != nil {
		return err
	}
	return c.syncMethodSubscription()
}

// SetDeviceMethodCallbackEx registers the asynchronous direct-method
// handler; nil unregisters it. Mutually exclusive with
// SetDeviceMethodCallback.
func (c *Client) SetDeviceMethodCallbackEx(cb MethodCallbackEx) error {
	if err := c.methodSlot.setAsync(cb); err != nil {
		return err
	}
	return c.syncMethodSubscription()
}

func (c *Client) syncMethodSubscription() error {
	if c.methodSlot.subscribed() {
		return c.tr.SubscribeMethods(c.dh)
	}
	return c.tr.UnsubscribeMethods(c.dh)
}

// DeviceMethodResponse completes a direct method previously delivered
// through the asynchronous method callback (§4.2 "device_method_response").
func (c *Client) DeviceMethodResponse(methodID string, response []byte, status int) error {
	return c.tr.DeviceMethodResponse(c.dh, methodID, response, status)
}

// DoWork executes one §4.2 do_work tick. It is non-blocking and must be
// called repeatedly by the application (directly, or from a loop the
// application owns); it never spawns a goroutine of its own.
//
// Steps, per §4.2:
//  1. read tick T;
//  2. evict timed-out waiting-to-send entries into event-confirmations
//     (message_timeout result) or drop silently if no callback is set;
//  3. for each queued twin update, call transport.ProcessItem, promoting
//     ok to in-flight and leaving continue/not_connected/error in place
//     for the next tick;
//  4. call transport.DoWork;
//  5. flush event-confirmations by invoking their stored callbacks.
func (c *Client) DoWork() {
	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return
	}
	now := c.tick()

	timedOut := c.queue.RemoveWhere(func(r *transport.SendRequest) bool {
		return r.TimeoutMS > 0 && now-r.EnqueueTick > r.TimeoutMS
	})
	for _, r := range timedOut {
		c.ackQueue = append(c.ackQueue, ackEntry{req: r, result: common.ConfirmationMessageTimeout})
	}

	remaining := c.twinQueue[:0]
	for _, tw := range c.twinQueue {
		result, err := c.tr.ProcessItem(transport.ProcessItemTwin, tw.payload)
		if err != nil {
			c.logger.Warnf("process twin item %d: %v", tw.itemID, err)
		}
		switch result {
		case transport.ProcessItemOK:
			// in-flight: the transport owns completion notification via
			// OnReportedStateComplete, drop it from the local queue.
		case transport.ProcessItemContinue, transport.ProcessItemNotConnected, transport.ProcessItemError:
			remaining = append(remaining, tw)
		}
	}
	c.twinQueue = remaining
	c.mu.Unlock()

	c.tr.DoWork(c.dh)

	c.mu.Lock()
	ackQueue := c.ackQueue
	c.ackQueue = nil
	c.mu.Unlock()

	for _, e := range ackQueue {
		if e.req.Callback != nil {
			e.req.Callback(e.result, e.req.UserContext)
		}
	}
}

// --- transport.Callbacks ---

var _ transport.Callbacks = (*Client)(nil)

// OnSendComplete is invoked by the transport once a batch of send
// requests has been dispatched; it queues the confirmations for the next
// DoWork flush step rather than invoking callbacks inline, keeping all
// application-visible callback invocations on the do_work thread.
func (c *Client) OnSendComplete(reqs []*transport.SendRequest, result common.ConfirmationKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range reqs {
		c.ackQueue = append(c.ackQueue, ackEntry{req: r, result: result})
	}
}

// OnMessage dispatches an inbound cloud-to-device message to whichever
// message callback is registered.
func (c *Client) OnMessage(info *transport.MessageInfo, msg *common.Message) bool {
	d := c.msgSlot.dispatch(&MessageInfo{info: info}, msg)
	return d == common.DispositionAccepted || d == common.DispositionNone
}

// OnMethod dispatches an inbound direct-method invocation.
func (c *Client) OnMethod(name string, payload []byte, methodID string) (int, []byte) {
	return c.methodSlot.dispatch(methodID, name, payload)
}

// OnTwin dispatches a full or partial twin delivery to the twin callback.
func (c *Client) OnTwin(kind transport.TwinUpdateKind, payload []byte) {
	c.twinSlot.dispatch(payload, kind == transport.TwinUpdatePartial)
}

// OnReportedStateComplete is currently surfaced only via logging; the
// application observes reported-state completion through the itemID
// returned by SendReportedState and its own bookkeeping.
func (c *Client) OnReportedStateComplete(itemID uint64, statusCode int) {
	c.logger.Debugf("reported state %d completed with status %d", itemID, statusCode)
}

// OnConnectionStatus forwards a connection-status change to the
// registered callback, if any.
func (c *Client) OnConnectionStatus(status common.ConnectionStatus, reason common.ConnectionReason) {
	c.mu.Lock()
	cb := c.statusCB
	c.mu.Unlock()
	if cb != nil {
		cb(status, reason)
	}
}

// GetProductInfo reports the User-Agent-style product string carried on
// every outbound request.
func (c *Client) GetProductInfo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.productInfo
}

// --- SetOption (§4.2) ---

// combineOptionResults mirrors the combined-result semantics of options
// forwarded to more than one collaborator: error if either errors, else ok
// if either succeeds, invalid_arg only if neither collaborator recognizes
// the name.
func combineOptionResults(results ...error) error {
	anyOK := false
	var firstErr error
	for _, err := range results {
		if err == nil {
			anyOK = true
			continue
		}
		if ce, ok := err.(*common.CoreError); ok && ce.Kind == common.KindInvalidArg {
			continue // "unrecognized", not a failure of a recognized option
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if anyOK {
		return nil
	}
	return common.NewError(common.KindInvalidArg, "unrecognized option")
}

// SetOption implements the §4.2 enumerated option set. Client-only
// options (messageTimeout, product_info, diagnostic_sampling_percentage)
// are handled here; the rest are forwarded to the transport and, where
// relevant, the blob sub-handle, with combined-result semantics.
func (c *Client) SetOption(name string, value interface{}) error {
	switch name {
	case "product_info":
		s, ok := value.(string)
		if !ok {
			return common.NewError(common.KindInvalidArg, "product_info must be a string")
		}
		c.mu.Lock()
		c.productInfo = s
		c.mu.Unlock()
		return nil
	case "diagnostic_sampling_percentage":
		n, ok := value.(int)
		if !ok {
			return common.NewError(common.KindInvalidArg, "diagnostic_sampling_percentage must be an int")
		}
		if n < 0 || n > 100 {
			return common.NewError(common.KindInvalidArg, "diagnostic_sampling_percentage must be in [0, 100]")
		}
		atomic.StoreInt32(&c.diagSamplePct, int32(n))
		return nil
	case "messageTimeout":
		// Per-message timeout default (§4.2): applies to newly enqueued
		// messages whose caller passes no explicit override; 0 disables it.
		ms, ok := value.(int)
		if !ok {
			return common.NewError(common.KindInvalidArg, "messageTimeout must be an int (milliseconds)")
		}
		c.mu.Lock()
		c.defaultTimeout = time.Duration(ms) * time.Millisecond
		c.mu.Unlock()
		return nil
	case "batching", "min_polling_time":
		return c.tr.SetOption(name, value)
	case "x509_cert", "x509_private_key", "trusted_certs":
		trErr := c.tr.SetOption(name, value)
		c.mu.Lock()
		if s, ok := value.(string); ok {
			switch name {
			case "x509_cert":
				c.certPEM = s
			case "x509_private_key":
				c.keyPEM = s
			case "trusted_certs":
				c.trustedCertsPEM = s
			}
		}
		c.mu.Unlock()
		return combineOptionResults(trErr)
	case "http_proxy":
		trErr := c.tr.SetOption(name, value)
		if s, ok := value.(string); ok {
			if u, perr := url.Parse(s); perr == nil {
				c.mu.Lock()
				c.proxyURL = u
				c.mu.Unlock()
			}
		}
		return combineOptionResults(trErr)
	case "network_interface":
		trErr := c.tr.SetOption(name, value)
		c.mu.Lock()
		if s, ok := value.(string); ok {
			c.networkInterface = s
		}
		c.mu.Unlock()
		return combineOptionResults(trErr)
	case "openssl_private_key_type", "openssl_engine", "curl_verbose":
		return c.tr.SetOption(name, value)
	case "blob_upload_timeout_secs", "blob_upload_tls_renegotiation":
		// forwarded to the transport (in case it shares the same HTTP
		// client); blob_upload_timeout_secs is also kept for the blob
		// sub-handle, where newUploader applies it as the SAS-token
		// lifetime. blob_upload_tls_renegotiation reaches the transport only.
		trErr := c.tr.SetOption(name, value)
		c.mu.Lock()
		if d, ok := value.(int); ok && name == "blob_upload_timeout_secs" {
			c.blobUploadTimeout = time.Duration(d) * time.Second
		}
		c.mu.Unlock()
		return combineOptionResults(trErr)
	default:
		return common.NewError(common.KindInvalidArg, "unrecognized option: "+name)
	}
}

// --- upload-to-blob sub-handle (§4.2, §4.7) ---

// UploadToBlob drives a full upload-to-blob session for src under
// blobName, using an independent blob.Uploader sub-handle bound to the
// client's own credentials (§4.2 "upload-to-blob sub-handle" — invoked
// directly by the device-client core, not through transport.Transport,
// since the blob protocol is wire-independent of whichever Transport the
// client was constructed with).
func (c *Client) UploadToBlob(ctx context.Context, blobName string, src interface {
	Read(p []byte) (n int, err error)
}) error {
	u := c.newUploader()
	defer u.Close()
	return u.UploadReader(ctx, blobName, src)
}

func (c *Client) newUploader() *blob.Uploader {
	c.mu.Lock()
	factory := c.uploaderFactory
	timeout := c.blobUploadTimeout
	certPEM, keyPEM, trustedCertsPEM := c.certPEM, c.keyPEM, c.trustedCertsPEM
	proxyURL, networkInterface := c.proxyURL, c.networkInterface
	c.mu.Unlock()

	if factory != nil {
		return factory(c.creds)
	}
	opts := []blob.Option{blob.WithLogger(c.logger)}
	if timeout > 0 {
		opts = append(opts, blob.WithSASTTL(timeout))
	}
	if hc, err := c.blobHTTPClient(certPEM, keyPEM, trustedCertsPEM, proxyURL, networkInterface); err != nil {
		c.logger.Warnf("upload-to-blob: using default http client: %v", err)
	} else if hc != nil {
		opts = append(opts, blob.WithHTTPClient(hc))
	}
	return blob.New(c.creds, opts...)
}

// blobHTTPClient rebuilds the plain *http.Client the upload-to-blob
// sub-handle uses from the same cert/proxy/interface defaults SetOption
// applies to the main transport (§4.2), so the two stay in sync. Returns
// (nil, nil) when none of those options have been set.
func (c *Client) blobHTTPClient(certPEM, keyPEM, trustedCertsPEM string, proxyURL *url.URL, networkInterface string) (*http.Client, error) {
	if certPEM == "" && keyPEM == "" && trustedCertsPEM == "" && proxyURL == nil && networkInterface == "" {
		return nil, nil
	}
	cfg, err := common.ClientTLSConfig(certPEM, keyPEM, trustedCertsPEM)
	if err != nil {
		return nil, err
	}
	ht := &http.Transport{TLSClientConfig: cfg}
	if proxyURL != nil {
		ht.Proxy = http.ProxyURL(proxyURL)
	}
	if networkInterface != "" {
		dial, err := common.DialerForInterface(networkInterface)
		if err != nil {
			return nil, err
		}
		ht.DialContext = dial
	}
	return &http.Client{Transport: ht}, nil
}
