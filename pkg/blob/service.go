// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/blobgate/pkg/blob/store"
	"github.com/absmach/blobgate/pkg/content"
	perrors "github.com/absmach/blobgate/pkg/errors"
	"github.com/absmach/blobgate/pkg/handler"
	"github.com/absmach/blobgate/pkg/rest"
)

const (
	// BlobPart is the multipart form field carrying the blob.
	BlobPart = "blob"
	// BlobInfo is the sub-resource returning blob properties without content.
	BlobInfo = "BlobInfo"

	// HeaderCreationTime carries the creation time of a blob.
	HeaderCreationTime = "X-Creation-Time"

	defaultContentType = "application/octet-stream"
	defaultMaxSize     = 64 << 20
)

// Notifier observes blob lifecycle events.
type Notifier interface {
	OnBlobCreated(ctx context.Context, b store.Blob)
	OnBlobDeleted(ctx context.Context, id string)
}

type noopNotifier struct{}

func (noopNotifier) OnBlobCreated(context.Context, store.Blob) {}
func (noopNotifier) OnBlobDeleted(context.Context, string)     {}

// Config configures a Service.
type Config struct {
	// MaxSize is the largest accepted blob in bytes.
	MaxSize int64
	// IDs generates blob ids. Defaults to random UUIDs.
	IDs rest.IDGenerator
	// Notifier is told about created and deleted blobs. Optional.
	Notifier Notifier
	Logger   *slog.Logger
}

// Service is a blocking handler.Handler serving the blob API from a Store.
// Wrap it with handler.Async before handing it to the ingress.
type Service struct {
	cfg   Config
	store store.Store
	now   func() time.Time
}

var _ handler.Handler = (*Service)(nil)

// NewService returns a blob service backed by s.
func NewService(cfg Config, s store.Store) *Service {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.IDs == nil {
		cfg.IDs = rest.UUIDGenerator{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{cfg: cfg, store: s, now: time.Now}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Handle implements handler.Handler.
func (s *Service) Handle(ctx context.Context, hctx *handler.Context, req *rest.Request, rc handler.ResponseChannel) {
	resp, err := s.serve(ctx, req)
	if err != nil {
		s.cfg.Logger.Debug("Blob request failed",
			slog.String("session", hctx.SessionID),
			slog.String("request", req.ID),
			slog.String("method", req.RawMethod),
			slog.String("path", req.Path()),
			slog.String("error", err.Error()))
		_ = rc.Fail(ctx, err)
		return
	}
	_ = rc.Send(ctx, resp)
}

func (s *Service) serve(ctx context.Context, req *rest.Request) (*rest.Response, error) {
	switch req.Method {
	case rest.MethodPost:
		return s.post(ctx, req)
	case rest.MethodGet, rest.MethodHead:
		if err := handler.Drain(ctx, req); err != nil {
			return nil, err
		}
		return s.get(ctx, req)
	case rest.MethodDelete:
		if err := handler.Drain(ctx, req); err != nil {
			return nil, err
		}
		return s.delete(ctx, req)
	case rest.MethodOptions:
		if err := handler.Drain(ctx, req); err != nil {
			return nil, err
		}
		resp := rest.NewResponse(http.StatusOK)
		resp.Header.Set(rest.HeaderAllow, rest.Allowed)
		return resp, nil
	default:
		return nil, perrors.New(perrors.KindMethodNotAllowed, req.RawMethod, perrors.ErrMethodNotAllowed)
	}
}

func (s *Service) post(ctx context.Context, req *rest.Request) (*rest.Response, error) {
	if p := req.Path(); p != "/" && p != "" {
		return nil, perrors.BadRequest("blobs are created at /, not %q", p)
	}
	serviceID := req.Header.Get(rest.HeaderServiceID)
	if serviceID == "" {
		return nil, perrors.BadRequest("missing %s header", rest.HeaderServiceID)
	}
	declared := int64(-1)
	if v := req.Header.Get(rest.HeaderBlobSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, perrors.BadRequest("invalid %s %q", rest.HeaderBlobSize, v)
		}
		declared = n
	}
	if declared > s.cfg.MaxSize {
		return nil, tooLarge(declared, s.cfg.MaxSize)
	}

	data, contentType, err := s.readBlob(ctx, req)
	if err != nil {
		return nil, err
	}
	if declared >= 0 && declared != int64(len(data)) {
		return nil, perrors.BadRequest("%s is %d but %d bytes were sent", rest.HeaderBlobSize, declared, len(data))
	}

	b := store.Blob{
		ID:          s.cfg.IDs.Next(),
		ServiceID:   serviceID,
		ContentType: contentType,
		Created:     s.now().UTC(),
		Data:        data,
	}
	if err := s.store.Put(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}
	s.cfg.Notifier.OnBlobCreated(ctx, b)

	resp := rest.NewResponse(http.StatusCreated)
	resp.Header.Set("Location", "/"+b.ID)
	resp.Header.Set(HeaderCreationTime, b.Created.Format(http.TimeFormat))
	resp.SetSize(b.Size())
	return resp, nil
}

// readBlob reads the raw body, or the blob part of a multipart form.
func (s *Service) readBlob(ctx context.Context, req *rest.Request) ([]byte, string, error) {
	body := content.NewReader(ctx, req.Content())
	contentType := req.Header.Get("Content-Type")

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		if contentType == "" {
			contentType = defaultContentType
		}
		data, err := s.readLimited(body)
		return data, contentType, err
	}

	mr := multipart.NewReader(body, params["boundary"])
	var (
		data  []byte
		found bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", bodyErr(err)
		}
		if part.FormName() != BlobPart || found {
			continue
		}
		found = true
		if data, err = s.readLimited(part); err != nil {
			return nil, "", err
		}
		contentType = part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = defaultContentType
		}
	}
	if !found {
		return nil, "", perrors.BadRequest("multipart body has no %q part", BlobPart)
	}
	return data, contentType, nil
}

func (s *Service) readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, s.cfg.MaxSize+1))
	if err != nil {
		return nil, bodyErr(err)
	}
	if n > s.cfg.MaxSize {
		return nil, tooLarge(n, s.cfg.MaxSize)
	}
	return buf.Bytes(), nil
}

func (s *Service) get(ctx context.Context, req *rest.Request) (*rest.Response, error) {
	id, sub, err := blobID(req)
	if err != nil {
		return nil, err
	}
	if sub != "" && sub != BlobInfo {
		return nil, perrors.BadRequest("unknown sub-resource %q", sub)
	}

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := rest.NewResponse(http.StatusOK)
	resp.Header.Set(rest.HeaderServiceID, b.ServiceID)
	resp.Header.Set(HeaderCreationTime, b.Created.Format(http.TimeFormat))
	resp.SetSize(b.Size())
	if sub == BlobInfo {
		return resp, nil
	}
	resp.Header.Set("Content-Type", b.ContentType)
	resp.Header.Set("Last-Modified", b.Created.Format(http.TimeFormat))
	resp.Body = rest.Bytes(b.Data)
	return resp, nil
}

func (s *Service) delete(ctx context.Context, req *rest.Request) (*rest.Response, error) {
	id, sub, err := blobID(req)
	if err != nil {
		return nil, err
	}
	if sub != "" {
		return nil, perrors.BadRequest("cannot delete sub-resource %q", sub)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	s.cfg.Notifier.OnBlobDeleted(ctx, id)
	return rest.NewResponse(http.StatusAccepted), nil
}

// blobID splits /<id>[/<sub-resource>].
func blobID(req *rest.Request) (id, sub string, err error) {
	p := strings.TrimPrefix(req.Path(), "/")
	id, sub, _ = strings.Cut(p, "/")
	if id == "" {
		return "", "", perrors.BadRequest("missing blob id")
	}
	return id, sub, nil
}

func tooLarge(n, max int64) error {
	return perrors.New(perrors.KindTooLarge, "blob",
		fmt.Errorf("%w: %d bytes exceeds %d", perrors.ErrSizeLimitExceeded, n, max))
}

// bodyErr keeps transport faults as they are and reports anything else as a
// malformed body.
func bodyErr(err error) error {
	switch perrors.KindOf(err) {
	case perrors.KindConnection, perrors.KindTooLarge:
		return err
	}
	return perrors.New(perrors.KindBadRequest, "body", err)
}
