package iotdevice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nytrix-io/iotcore/common"
	"github.com/nytrix-io/iotcore/credentials"
	"github.com/nytrix-io/iotcore/logger"
	"github.com/nytrix-io/iotcore/transport"
)

// fakeHandle is the minimal transport.DeviceHandle a fakeTransport hands back.
type fakeHandle struct{ id string }

func (h *fakeHandle) DeviceID() string { return h.id }

// fakeTransport is an in-memory transport.Transport stand-in: DoWork pops
// the registered device's queue into a single OnSendComplete call,
// letting tests drive the client's do_work tick without any network I/O.
type fakeTransport struct {
	cb transport.Callbacks

	registered *fakeHandle
	queue      *transport.SendQueue

	doWorkResult  common.ConfirmationKind
	processResult transport.ProcessItemResult
	processErr    error
	processCalls  int

	subscribedTwin    bool
	subscribedMethods bool

	setOptionCalls map[string]interface{}
	retryPolicySet string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		doWorkResult:   common.ConfirmationOK,
		processResult:  transport.ProcessItemOK,
		setOptionCalls: map[string]interface{}{},
	}
}

func (f *fakeTransport) SetLogger(logger.Logger)                   {}
func (f *fakeTransport) SetCallbackContext(cb transport.Callbacks) { f.cb = cb }

func (f *fakeTransport) Register(cfg transport.DeviceConfig, q *transport.SendQueue) (transport.DeviceHandle, error) {
	f.registered = &fakeHandle{id: cfg.Credentials.DeviceID()}
	f.queue = q
	return f.registered, nil
}

func (f *fakeTransport) Unregister(transport.DeviceHandle) error { return nil }

func (f *fakeTransport) Subscribe(transport.DeviceHandle) error   { return nil }
func (f *fakeTransport) Unsubscribe(transport.DeviceHandle) error { return nil }
func (f *fakeTransport) SubscribeTwin(transport.DeviceHandle) error {
	f.subscribedTwin = true
	return nil
}
func (f *fakeTransport) UnsubscribeTwin(transport.DeviceHandle) error {
	f.subscribedTwin = false
	return nil
}
func (f *fakeTransport) SubscribeMethods(transport.DeviceHandle) error {
	f.subscribedMethods = true
	return nil
}
func (f *fakeTransport) UnsubscribeMethods(transport.DeviceHandle) error {
	f.subscribedMethods = false
	return nil
}

func (f *fakeTransport) DoWork(transport.DeviceHandle) {
	if f.queue == nil || f.queue.Len() == 0 {
		return
	}
	reqs := f.queue.Drain()
	if f.cb != nil {
		f.cb.OnSendComplete(reqs, f.doWorkResult)
	}
}

func (f *fakeTransport) ProcessItem(kind transport.ProcessItemKind, item interface{}) (transport.ProcessItemResult, error) {
	f.processCalls++
	return f.processResult, f.processErr
}

func (f *fakeTransport) SendMessageDisposition(*transport.MessageInfo, common.Disposition) error {
	return nil
}
func (f *fakeTransport) DeviceMethodResponse(transport.DeviceHandle, string, []byte, int) error {
	return nil
}

func (f *fakeTransport) GetSendStatus(transport.DeviceHandle) transport.SendStatus {
	if f.queue != nil && f.queue.Len() > 0 {
		return transport.SendStatusBusy
	}
	return transport.SendStatusIdle
}
func (f *fakeTransport) GetHostname() string { return "unit-test.azure-devices.net" }

func (f *fakeTransport) SetOption(name string, value interface{}) error {
	f.setOptionCalls[name] = value
	return nil
}
func (f *fakeTransport) SetRetryPolicy(name string, timeoutSecs int) error {
	f.retryPolicySet = name
	return nil
}

func (f *fakeTransport) Close() error { return nil }

var _ transport.Transport = (*fakeTransport)(nil)

func testCreds() credentials.Credentials {
	return &credentials.SharedAccessKeyCredentials{
		Host:   "unit-test.azure-devices.net",
		Device: "dev1",
		Key:    "c2VjcmV0",
	}
}

func TestCreate_RegistersAgainstTransport(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)
	require.Equal(t, "dev1", tr.registered.id)
	require.Equal(t, StateRegistered, c.state)
}

func TestSendEventAsync_ClonesMessageAndStampsEnqueueTick(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	original := common.NewFromString("hello")
	require.NoError(t, c.SendEventAsync(original, 0, nil, nil))

	require.Equal(t, 1, c.queue.Len())
	queued := c.queue.Peek().Message
	require.NotSame(t, original, queued)
	body, err := queued.GetString()
	require.NoError(t, err)
	require.Equal(t, "hello", body)
	require.Greater(t, c.queue.Peek().EnqueueTick, int64(0))
}

func TestSendEventAsync_FIFOOrder(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SendEventAsync(common.NewFromString("a"), 0, nil, nil))
	require.NoError(t, c.SendEventAsync(common.NewFromString("b"), 0, nil, nil))
	require.NoError(t, c.SendEventAsync(common.NewFromString("c"), 0, nil, nil))

	var order []string
	for _, r := range c.queue.Drain() {
		s, _ := r.Message.GetString()
		order = append(order, s)
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDoWork_FlushesSendConfirmationsAfterTransportDoWork(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	var gotResult common.ConfirmationKind
	var gotCtx interface{}
	done := make(chan struct{})
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, func(result common.ConfirmationKind, ctx interface{}) {
		gotResult = result
		gotCtx = ctx
		close(done)
	}, "ctx-value"))

	c.DoWork()

	select {
	case <-done:
	default:
		t.Fatal("send callback was not invoked by DoWork")
	}
	require.Equal(t, common.ConfirmationOK, gotResult)
	require.Equal(t, "ctx-value", gotCtx)
}

func TestDoWork_EvictsTimedOutSendRequests(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	var gotResult common.ConfirmationKind
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), time.Millisecond, func(result common.ConfirmationKind, ctx interface{}) {
		gotResult = result
	}, nil))

	// backdate the enqueue tick so the very next DoWork sees it as expired.
	c.queue.Peek().EnqueueTick = c.tick() - 1000

	c.DoWork()

	require.Equal(t, common.ConfirmationMessageTimeout, gotResult)
	require.Equal(t, 0, c.queue.Len())
}

func TestDoWork_DoesNotEvictExactlyAtBoundary(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)
	// keep the fake transport from draining the queue, so queue length
	// reflects timeout eviction alone.
	tr.queue = nil

	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 100*time.Millisecond, nil, nil))

	// now - EnqueueTick == TimeoutMS exactly: must survive (strict >, not >=).
	c.queue.Peek().EnqueueTick = c.tick() - 100
	c.DoWork()
	require.Equal(t, 1, c.queue.Len())

	// one tick past the boundary: must be evicted.
	c.queue.Peek().EnqueueTick = c.tick() - 101
	c.DoWork()
	require.Equal(t, 0, c.queue.Len())
}

func TestSetOption_MessageTimeoutAppliesDefaultToNewSends(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetOption("messageTimeout", 50))
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, nil, nil))
	require.Equal(t, int64(50), c.queue.Peek().TimeoutMS)

	// an explicit non-zero caller timeout still wins over the default.
	require.NoError(t, c.SendEventAsync(common.NewFromString("y"), 9*time.Millisecond, nil, nil))
	require.Equal(t, int64(9), c.queue.Drain()[1].TimeoutMS)
}

func TestSendEventAsync_StampsMessageIDWhenAbsent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, nil, nil))
	require.NotEmpty(t, c.queue.Peek().Message.System.MessageID)
}

func TestSendEventAsync_PreservesExistingMessageID(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	original := common.NewFromString("x")
	original.System.MessageID = "caller-assigned-id"
	require.NoError(t, c.SendEventAsync(original, 0, nil, nil))
	require.Equal(t, "caller-assigned-id", c.queue.Peek().Message.System.MessageID)
}

func TestDoWork_RetriesTwinItemsLeftInContinueState(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.processResult = transport.ProcessItemContinue
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	_, err = c.SendReportedState([]byte(`{"temp":21}`))
	require.NoError(t, err)

	c.DoWork()
	require.Equal(t, 1, tr.processCalls)
	require.Equal(t, 1, len(c.twinQueue))

	c.DoWork()
	require.Equal(t, 2, tr.processCalls)
	require.Equal(t, 1, len(c.twinQueue))
}

func TestDoWork_DropsTwinItemOnProcessItemOK(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	_, err = c.SendReportedState([]byte(`{"temp":21}`))
	require.NoError(t, err)

	c.DoWork()
	require.Equal(t, 0, len(c.twinQueue))
}

func TestSetMessageCallback_MutualExclusionWithAsync(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetMessageCallbackEx(func(info *MessageInfo, msg *common.Message) {}))
	err = c.SetMessageCallback(func(msg *common.Message) common.Disposition { return common.DispositionAccepted })
	require.Error(t, err)
}

func TestSetDeviceMethodCallback_SubscribesTransport(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetDeviceMethodCallback(func(name string, payload []byte) (int, []byte) {
		return 200, nil
	}))
	require.True(t, tr.subscribedMethods)

	require.NoError(t, c.SetDeviceMethodCallback(nil))
	require.False(t, tr.subscribedMethods)
}

func TestGetSendStatus_BusyIffQueueNonEmpty(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.Equal(t, transport.SendStatusIdle, c.GetSendStatus())
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, nil, nil))
	require.Equal(t, transport.SendStatusBusy, c.GetSendStatus())
}

func TestSetOption_DiagnosticSamplingPercentageValidatesRange(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetOption("diagnostic_sampling_percentage", 100))
	require.Error(t, c.SetOption("diagnostic_sampling_percentage", 101))
	require.Error(t, c.SetOption("diagnostic_sampling_percentage", -1))
}

func TestSetOption_DiagnosticSamplingStampsProperties(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetOption("diagnostic_sampling_percentage", 100))
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, nil, nil))

	props := c.queue.Peek().Message.Properties
	_, hasID := props["diag-id"]
	_, hasTime := props["diag-creationtimeutc"]
	require.True(t, hasID)
	require.True(t, hasTime)
}

func TestSetOption_CertOptionsForwardedAndMirroredLocally(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetOption("x509_cert", "cert-pem"))
	require.NoError(t, c.SetOption("x509_private_key", "key-pem"))
	require.NoError(t, c.SetOption("trusted_certs", "trust-pem"))
	require.NoError(t, c.SetOption("http_proxy", "http://proxy.example:8080"))
	require.NoError(t, c.SetOption("network_interface", "eth0"))

	require.Equal(t, "cert-pem", tr.setOptionCalls["x509_cert"])
	require.Equal(t, "key-pem", tr.setOptionCalls["x509_private_key"])
	require.Equal(t, "trust-pem", tr.setOptionCalls["trusted_certs"])

	require.Equal(t, "cert-pem", c.certPEM)
	require.Equal(t, "key-pem", c.keyPEM)
	require.Equal(t, "trust-pem", c.trustedCertsPEM)
	require.NotNil(t, c.proxyURL)
	require.Equal(t, "proxy.example:8080", c.proxyURL.Host)
	require.Equal(t, "eth0", c.networkInterface)
}

func TestSetOption_ForwardsBatchingToTransport(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	require.NoError(t, c.SetOption("batching", true))
	require.Equal(t, true, tr.setOptionCalls["batching"])
}

func TestDestroy_FlushesQueueWithDestroyBeforeSend(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := Create(tr, testCreds())
	require.NoError(t, err)

	var gotResult common.ConfirmationKind
	require.NoError(t, c.SendEventAsync(common.NewFromString("x"), 0, func(result common.ConfirmationKind, ctx interface{}) {
		gotResult = result
	}, nil))

	require.NoError(t, c.Destroy())
	require.Equal(t, common.ConfirmationDestroy, gotResult)
	require.Equal(t, StateDestroyed, c.state)
}

func TestCreateFromConnectionString_SharedAccessKey(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c, err := CreateFromConnectionString(tr,
		"HostName=unit-test.azure-devices.net;DeviceId=dev1;SharedAccessKey=c2VjcmV0")
	require.NoError(t, err)
	require.Equal(t, credentials.KindDeviceKey, c.creds.Kind())
	require.Equal(t, "dev1", c.creds.DeviceID())
}
