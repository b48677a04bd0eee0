// Package blob implements the §4.7 upload-to-blob sub-protocol: a
// three-stage handshake with the hub's file API and an Azure Storage
// block-blob endpoint, independent of whichever wire transport (MQTT,
// AMQP, HTTP) the device client's main Transport speaks.
package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nytrix-io/iotcore/common"
	"github.com/nytrix-io/iotcore/credentials"
	"github.com/nytrix-io/iotcore/iotutil"
	"github.com/nytrix-io/iotcore/logger"
)

// BlockSize is the maximum number of bytes uploaded per PutBlock call.
const BlockSize = 4 * 1024 * 1024

// MaxBlockCount is the maximum number of blocks a single blob may have.
const MaxBlockCount = 50000

const apiVersion = "2016-11-14"

// State is the sub-handle's lifecycle (§4.7/§9).
type State uint8

const (
	StateNew State = iota
	StateInitialized
	StateConnected
	StateStreaming
	StateCommitted
	StateNotified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateCommitted:
		return "committed"
	case StateNotified:
		return "notified"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sasRequest is the stage-1 request body: POST .../files.
type sasRequest struct {
	BlobName string `json:"blobName"`
}

// sasResponse is the hub's stage-1 reply naming a correlation ID and the
// SAS-signed blob-storage destination.
type sasResponse struct {
	CorrelationID  string `json:"correlationId"`
	HostName       string `json:"hostName"`
	ContainerName  string `json:"containerName"`
	BlobName       string `json:"blobName"`
	SASToken       string `json:"sasToken"`
}

// URI returns the fully qualified, SAS-signed blob destination.
func (r *sasResponse) URI() string {
	return fmt.Sprintf("https://%s/%s/%s%s", r.HostName, r.ContainerName, r.BlobName, r.SASToken)
}

// notifyRequest is the stage-3 completion-notification body.
type notifyRequest struct {
	CorrelationID     string `json:"correlationId"`
	IsSuccess         bool   `json:"isSuccess"`
	StatusCode        int    `json:"statusCode"`
	StatusDescription string `json:"statusDescription"`
}

// Option configures an Uploader at construction time.
type Option func(*Uploader)

// WithLogger sets the diagnostic logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

// WithHTTPClient overrides the plain HTTP client wrapped by the
// uploader's retrying client, for both the hub handshake and the
// blob-storage PUTs.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.client.HTTPClient = c }
}

// WithSASTTL sets the lifetime requested for the hub-handshake SAS token.
func WithSASTTL(d time.Duration) Option {
	return func(u *Uploader) { u.sasTTL = d }
}

// Uploader drives one §4.7 upload-to-blob session. It is not safe for
// concurrent use by multiple goroutines; the device-client core serializes
// access to it the same way it serializes access to the main Transport.
type Uploader struct {
	creds  credentials.Credentials
	client *retryablehttp.Client
	logger logger.Logger
	sasTTL time.Duration

	state State

	correlationID string
	blobURI       string
	blockIDs      []string
}

// New returns an Uploader bound to creds, in StateNew.
func New(creds credentials.Credentials, opts ...Option) *Uploader {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	u := &Uploader{
		creds:  creds,
		client: rc,
		logger: logger.Nop{},
		sasTTL: 30 * time.Second,
		state:  StateNew,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State reports the uploader's current lifecycle position.
func (u *Uploader) State() State { return u.state }

func (u *Uploader) requireState(want State) error {
	if u.state != want {
		return common.NewError(common.KindError,
			fmt.Sprintf("upload-to-blob: expected state %s, got %s", want, u.state))
	}
	return nil
}

// Initialize performs stage 1: request a correlation ID and SAS-signed
// blob destination from the hub's file API for blobName.
func (u *Uploader) Initialize(ctx context.Context, blobName string) error {
	if err := u.requireState(StateNew); err != nil {
		return err
	}

	body, err := json.Marshal(sasRequest{BlobName: blobName})
	if err != nil {
		return common.Wrap(common.KindError, "marshal sas request", err)
	}

	target := fmt.Sprintf("https://%s/devices/%s/files?api-version=%s",
		u.creds.HostName(), u.creds.DeviceID(), apiVersion)
	req, err := retryablehttp.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return common.Wrap(common.KindError, "build sas request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if err := u.authenticate(req.Request); err != nil {
		return err
	}

	resp, err := u.client.Do(req.WithContext(ctx))
	if err != nil {
		return common.Wrap(common.KindError, "sas handshake", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return common.NewError(common.KindError, fmt.Sprintf("sas handshake failed: status %d", resp.StatusCode))
	}

	var sr sasResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return common.Wrap(common.KindError, "decode sas response", err)
	}

	u.correlationID = sr.CorrelationID
	if u.correlationID == "" {
		u.correlationID = iotutil.UUID()
	}
	u.blobURI = sr.URI()
	u.state = StateInitialized
	u.logger.Debugf("upload-to-blob: initialized, correlation id %s", u.correlationID)
	return nil
}

// Connect moves from StateInitialized to StateConnected; the HTTP dialect
// has no separate connection handshake against the storage endpoint, so
// this is a pure state transition kept for symmetry with the wire
// transports' connect/send/disconnect shape (§4.1).
func (u *Uploader) Connect(context.Context) error {
	if err := u.requireState(StateInitialized); err != nil {
		return err
	}
	u.state = StateConnected
	return nil
}

// blockID formats the n-th block identifier the way the original client
// does: a zero-padded six-digit sequence number, base64-encoded.
func blockID(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%06d", n)))
}

// PutBlock uploads one block of up to BlockSize bytes (stage 2). Blocks
// must be uploaded in order starting at index 0; the device client reads
// its file source and calls PutBlock once per BlockSize chunk.
func (u *Uploader) PutBlock(ctx context.Context, data []byte) error {
	if u.state != StateConnected && u.state != StateStreaming {
		return common.NewError(common.KindError, fmt.Sprintf("upload-to-blob: cannot put block in state %s", u.state))
	}
	if len(data) > BlockSize {
		return common.NewError(common.KindInvalidArg, fmt.Sprintf("block exceeds max size of %d bytes", BlockSize))
	}
	if len(u.blockIDs) >= MaxBlockCount {
		return common.NewError(common.KindError, fmt.Sprintf("upload-to-blob: exceeded max block count of %d", MaxBlockCount))
	}

	id := blockID(len(u.blockIDs))
	target := fmt.Sprintf("%s&comp=block&blockid=%s", u.blobURI, url.QueryEscape(id))
	req, err := retryablehttp.NewRequest(http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return common.Wrap(common.KindError, "build put-block request", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("x-ms-blob-type", "BlockBlob")

	resp, err := u.client.Do(req.WithContext(ctx))
	if err != nil {
		return common.Wrap(common.KindError, "put block", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return common.NewError(common.KindError, fmt.Sprintf("put block failed: status %d", resp.StatusCode))
	}

	u.blockIDs = append(u.blockIDs, id)
	u.state = StateStreaming
	return nil
}

type blockListXML struct {
	XMLName  xml.Name `xml:"BlockList"`
	Latest   []string `xml:"Latest"`
}

// Commit finalizes the blob from the blocks uploaded so far via a
// put-block-list call (stage 2 completion). Calling Commit with zero
// blocks uploaded is an error: an empty blob was never streamed.
func (u *Uploader) Commit(ctx context.Context) error {
	if u.state != StateStreaming {
		return common.NewError(common.KindError, fmt.Sprintf("upload-to-blob: cannot commit in state %s", u.state))
	}

	body, err := xml.Marshal(blockListXML{Latest: u.blockIDs})
	if err != nil {
		return common.Wrap(common.KindError, "marshal block list", err)
	}
	full := append([]byte(xml.Header), body...)

	target := u.blobURI + "&comp=blocklist"
	req, err := retryablehttp.NewRequest(http.MethodPut, target, bytes.NewReader(full))
	if err != nil {
		return common.Wrap(common.KindError, "build put-block-list request", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := u.client.Do(req.WithContext(ctx))
	if err != nil {
		return common.Wrap(common.KindError, "put block list", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return common.NewError(common.KindError, fmt.Sprintf("put block list failed: status %d", resp.StatusCode))
	}

	u.state = StateCommitted
	return nil
}

// Notify performs stage 3: tell the hub whether the upload succeeded so
// it can release the file record. success should reflect whether Commit
// (or the caller's own view of the upload, on an aborted transfer)
// completed without error.
func (u *Uploader) Notify(ctx context.Context, success bool, statusCode int, statusDescription string) error {
	switch {
	case u.state == StateCommitted:
	case !success && (u.state == StateInitialized || u.state == StateConnected || u.state == StateStreaming):
		// A failed or aborted transfer is reported from any pre-commit state.
	case u.state == StateConnected && success:
		// An empty (zero-block) stream is never Committed — PutBlock was
		// never called — but it is still a successful upload (§4.7).
	default:
		return common.NewError(common.KindError, fmt.Sprintf("upload-to-blob: cannot notify in state %s", u.state))
	}

	body, err := json.Marshal(notifyRequest{
		CorrelationID:     u.correlationID,
		IsSuccess:         success,
		StatusCode:        statusCode,
		StatusDescription: statusDescription,
	})
	if err != nil {
		return common.Wrap(common.KindError, "marshal notify request", err)
	}

	target := fmt.Sprintf("https://%s/devices/%s/files/notifications/%s?api-version=%s",
		u.creds.HostName(), u.creds.DeviceID(), u.correlationID, apiVersion)
	req, err := retryablehttp.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return common.Wrap(common.KindError, "build notify request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if err := u.authenticate(req.Request); err != nil {
		return err
	}

	resp, err := u.client.Do(req.WithContext(ctx))
	if err != nil {
		return common.Wrap(common.KindError, "notify upload complete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return common.NewError(common.KindError, fmt.Sprintf("notify failed: status %d", resp.StatusCode))
	}

	u.state = StateNotified
	return nil
}

// Close releases the uploader; it never returns an error, mirroring the
// main Transport.Close contract (§4.1).
func (u *Uploader) Close() error {
	u.state = StateClosed
	return nil
}

// UploadReader drives the full stage-1→stage-3 handshake for a single
// io.Reader source, chunking it into BlockSize pieces. It is the
// convenience entry point the device-client core calls from its
// upload-to-blob operation (§4.2); callers needing finer control (resume,
// progress callbacks) drive Initialize/Connect/PutBlock/Commit/Notify
// directly instead.
func (u *Uploader) UploadReader(ctx context.Context, blobName string, src io.Reader) (err error) {
	if err := u.Initialize(ctx, blobName); err != nil {
		return err
	}
	if err := u.Connect(ctx); err != nil {
		return err
	}

	buf := make([]byte, BlockSize)
	uploadErr := func() error {
		for {
			n, readErr := io.ReadFull(src, buf)
			if n > 0 {
				if err := u.PutBlock(ctx, buf[:n]); err != nil {
					return err
				}
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return nil
			}
			if readErr != nil {
				return common.Wrap(common.KindError, "read upload source", readErr)
			}
		}
	}()

	statusCode := 200
	statusDesc := "OK"
	success := uploadErr == nil
	if uploadErr != nil {
		statusCode = 500
		statusDesc = uploadErr.Error()
	} else if len(u.blockIDs) > 0 {
		if commitErr := u.Commit(ctx); commitErr != nil {
			uploadErr = commitErr
			success = false
			statusCode = 500
			statusDesc = commitErr.Error()
		}
	}

	if notifyErr := u.Notify(ctx, success, statusCode, statusDesc); notifyErr != nil {
		if uploadErr == nil {
			uploadErr = notifyErr
		}
	}
	return uploadErr
}

func (u *Uploader) authenticate(req *http.Request) error {
	if u.creds.Kind() == credentials.KindX509 || u.creds.Kind() == credentials.KindX509ECC {
		return nil
	}
	resource := fmt.Sprintf("%s/devices/%s", u.creds.HostName(), u.creds.DeviceID())
	token, err := u.creds.Token(resource, u.sasTTL)
	if err != nil {
		return common.Wrap(common.KindError, "mint sas token", err)
	}
	req.Header.Set("Authorization", token)
	return nil
}
