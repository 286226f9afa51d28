package storage

import (
	"errors"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"because/internal/domain"
)

func storageErr(kind domain.StorageKind, op string, err error) error {
	return &domain.StorageError{Kind: kind, Op: op, Err: err}
}

// classifyErr maps a backend failure onto the storage error taxonomy.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) || errors.Is(err, badger.ErrTxnTooBig) {
		return storageErr(domain.KindQuotaExceeded, op, err)
	}
	return storageErr(domain.KindIO, op, err)
}
