// Package scancode issues the per-user codes printed on member and staff
// cards and renders them as QR images.
package scancode

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"swimschool/internal/attendance"
)

// DefaultSize is the edge length of rendered QR images in pixels.
const DefaultSize = 300

var (
	ErrUserNotFound = errors.New("user not found")
	ErrCodeNotFound = errors.New("scan code not found")
)

// Store persists scan codes.
type Store interface {
	FindUser(ctx context.Context, id string) (*attendance.User, error)
	FindScanCode(ctx context.Context, code string) (*attendance.ScanCode, error)
	FindScanCodeByUser(ctx context.Context, userID string) (*attendance.ScanCode, error)
	CreateScanCode(ctx context.Context, sc attendance.ScanCode) (attendance.ScanCode, error)
	SetScanCodeQRURL(ctx context.Context, code, url string) error
}

// Uploader stores rendered images and returns their public URL.
type Uploader interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (string, error)
}

// Service issues codes. The uploader is optional.
type Service struct {
	store    Store
	uploader Uploader
	log      *zap.Logger
}

// NewService creates a scan-code service; uploader may be nil.
func NewService(store Store, uploader Uploader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, uploader: uploader, log: log}
}

// Issue returns the user's code, creating it on first use. Codes are never
// rotated: a printed card stays valid for the lifetime of the account.
func (s *Service) Issue(ctx context.Context, userID string) (attendance.ScanCode, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return attendance.ScanCode{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return attendance.ScanCode{}, ErrUserNotFound
	}

	if existing, err := s.store.FindScanCodeByUser(ctx, userID); err != nil {
		return attendance.ScanCode{}, fmt.Errorf("find scan code: %w", err)
	} else if existing != nil {
		return *existing, nil
	}

	sc, err := s.store.CreateScanCode(ctx, attendance.ScanCode{Code: uuid.NewString(), UserID: userID})
	if errors.Is(err, attendance.ErrDuplicateCode) {
		// lost a race with a concurrent issue for the same user
		existing, ferr := s.store.FindScanCodeByUser(ctx, userID)
		if ferr != nil || existing == nil {
			return attendance.ScanCode{}, fmt.Errorf("reload scan code: %w", err)
		}
		return *existing, nil
	}
	if err != nil {
		return attendance.ScanCode{}, fmt.Errorf("create scan code: %w", err)
	}

	if s.uploader != nil {
		if url, err := s.upload(ctx, sc.Code); err != nil {
			s.log.Warn("qr upload failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			sc.QRURL = url
		}
	}
	return sc, nil
}

func (s *Service) upload(ctx context.Context, code string) (string, error) {
	png, err := Render(code, DefaultSize)
	if err != nil {
		return "", err
	}
	url, err := s.uploader.UploadPNG(ctx, png, code)
	if err != nil {
		return "", err
	}
	if err := s.store.SetScanCodeQRURL(ctx, code, url); err != nil {
		return "", fmt.Errorf("save qr url: %w", err)
	}
	return url, nil
}

// PNG renders an issued code.
func (s *Service) PNG(ctx context.Context, code string, size int) ([]byte, error) {
	sc, err := s.store.FindScanCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find scan code: %w", err)
	}
	if sc == nil {
		return nil, ErrCodeNotFound
	}
	return Render(sc.Code, size)
}

// Render encodes code as a QR PNG of size pixels.
func Render(code string, size int) ([]byte, error) {
	if size <= 0 || size > 2048 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
