package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"because/internal/classify"
	"because/internal/config"
	"because/internal/lifecycle"
	"because/internal/storage"
)

// app is the wired collection used by the item commands and the bot.
type app struct {
	store *storage.Store
	creds *config.CredentialStore
	items *lifecycle.Manager
}

func openApp(ctx context.Context) (*app, error) {
	creds, err := config.NewCredentialStore(afero.NewOsFs(), cfg.CredentialsPath(),
		classify.Credentials{Provider: cfg.AIProvider, Key: cfg.AIAPIKey}, log)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(
		storage.BadgerOpener(cfg.DBPath(), log),
		storage.NewFlatBackend(afero.NewOsFs(), cfg.DataDir, cfg.LegacyQuotaBytes, log),
		log,
	)
	gateway := classify.NewGateway(creds, classify.Options{
		RelayURL: cfg.RelayURL,
		Timeout:  cfg.ClassifyTimeout,
	}, log)
	items := lifecycle.New(store, gateway, lifecycle.Options{UndoWindow: cfg.UndoWindow}, log)

	if err := items.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	log.WithField("mode", store.Mode().String()).Debug("Storage ready")
	return &app{store: store, creds: creds, items: items}, nil
}

// Close waits for classifications, commits pending deletes and closes the
// store. It also reports a background write that failed along the way.
func (a *app) Close(ctx context.Context) error {
	err := a.items.Close(ctx)
	if bg := a.items.TakeBackgroundError(); bg != nil {
		err = errors.Join(err, fmt.Errorf("background save failed: %w", bg))
	}
	if cerr := a.store.Close(); cerr != nil {
		log.WithError(cerr).Error("Error closing storage")
	}
	return err
}

// withApp runs fn against an open app and always closes it.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.Background()))
	}()
	return fn(a)
}
