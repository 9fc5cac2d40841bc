package guest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"go.uber.org/zap"
)

// Step names a stage of the conversion protocol.
type Step string

const (
	StepExport     Step = "export"
	StepConvert    Step = "convert"
	StepMembership Step = "membership"
	StepImport     Step = "import"
	StepClear      Step = "clear"
)

var (
	errMissingAPI     = errors.New("guest: conversion api is required")
	errMissingGuestID = errors.New("guest: guest id is required")
	errMissingRoomID  = errors.New("guest: conversion returned no room id")
)

// ConversionError reports the step at which a conversion stopped. Guest data is
// left untouched for every step before StepClear.
type ConversionError struct {
	Step Step
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("guest conversion failed at %s: %v", e.Step, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ConversionAPI is the account-side backend consulted during conversion.
type ConversionAPI interface {
	ConvertGuest(ctx context.Context, guestID, slug string) (protocol.RoomID, error)
	EnsureMembership(ctx context.Context, roomID protocol.RoomID) error
	ImportDrawings(ctx context.Context, roomID protocol.RoomID, drawings []shapes.Shape) error
}

// ConverterConfig wires a converter.
type ConverterConfig struct {
	API    ConversionAPI
	Store  Store
	Logger *zap.Logger
}

// Request describes a conversion attempt. When Convert is false the guest chose
// not to carry drawings over and nothing happens.
type Request struct {
	GuestID string
	Slug    string
	Convert bool
}

// Result summarizes a finished conversion.
type Result struct {
	RoomID    protocol.RoomID
	Converted bool
	Imported  int
}

// Converter moves a guest room into a server-owned room.
type Converter struct {
	api    ConversionAPI
	store  Store
	logger *zap.Logger
}

// NewConverter validates the configuration.
func NewConverter(cfg ConverterConfig) (*Converter, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{api: cfg.API, store: cfg.Store, logger: logger}, nil
}

// Convert runs convert, membership, import and clear in that order. Local data is
// cleared only after the import was confirmed.
func (c *Converter) Convert(ctx context.Context, request Request) (Result, error) {
	if !request.Convert {
		return Result{}, nil
	}
	persistence, err := NewPersistence(c.store, request.Slug, c.logger)
	if err != nil {
		return Result{}, err
	}
	guestID := strings.TrimSpace(request.GuestID)
	if guestID == "" {
		user, found, loadErr := c.store.LoadUser(ctx)
		if loadErr != nil {
			return Result{}, fmt.Errorf("guest: load user: %w", loadErr)
		}
		if !found {
			return Result{}, errMissingGuestID
		}
		guestID = user.ID
	}

	drawings, err := persistence.Export(ctx)
	if err != nil {
		return Result{}, c.fail(StepExport, persistence.RoomKey(), err)
	}

	roomID, err := c.api.ConvertGuest(ctx, guestID, strings.TrimSpace(request.Slug))
	if err != nil {
		return Result{}, c.fail(StepConvert, persistence.RoomKey(), err)
	}
	if roomID == 0 {
		return Result{}, c.fail(StepConvert, persistence.RoomKey(), errMissingRoomID)
	}
	if err := c.api.EnsureMembership(ctx, roomID); err != nil {
		return Result{}, c.fail(StepMembership, persistence.RoomKey(), err)
	}
	if len(drawings) > 0 {
		if err := c.api.ImportDrawings(ctx, roomID, drawings); err != nil {
			return Result{}, c.fail(StepImport, persistence.RoomKey(), err)
		}
	}
	if err := persistence.Clear(ctx); err != nil {
		return Result{}, c.fail(StepClear, persistence.RoomKey(), err)
	}

	c.logger.Info("guest room converted",
		zap.String("room_key", persistence.RoomKey()),
		zap.Int64("room_id", roomID.Int64()),
		zap.Int("drawings", len(drawings)))
	return Result{RoomID: roomID, Converted: true, Imported: len(drawings)}, nil
}

func (c *Converter) fail(step Step, roomKey string, err error) error {
	c.logger.Warn("guest conversion failed",
		zap.String("step", string(step)),
		zap.String("room_key", roomKey),
		zap.Error(err))
	return &ConversionError{Step: step, Err: err}
}
