// Package store provides the persistent collaborators of the engine: the
// instant-transfer write-ahead ledger, the single-slot dapp session store and
// the token metadata cache. All three share one badger database; the exact
// on-disk format is private to this package.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/dgraph-io/badger/v2"
	"github.com/ethereum/go-ethereum/common"
)

const (
	prefixTransfer = "it:"
	prefixToken    = "tok:"
	keySession     = "session"
)

// DB is a badger-backed store.
type DB struct {
	db *badger.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// InstantTransferRecord is one pending delegated transfer awaiting mining.
type InstantTransferRecord struct {
	TxHash string         `json:"txHash"`
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	Nonce  *big.Int       `json:"nonce"`
}

// InsertInstantTransfer stores a record keyed by its transaction hash. The
// insert is a no-op, not an error, when the hash already exists, which makes
// resubmission retry-safe.
func (d *DB) InsertInstantTransfer(rec InstantTransferRecord) error {
	if rec.TxHash == "" {
		return errors.New("instant transfer record without tx hash")
	}
	return d.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixTransfer + rec.TxHash)
		if _, err := txn.Get(key); err == nil {
			return nil // already tracked
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
}

// LoadInstantTransfers returns all pending records ordered by allowance nonce.
func (d *DB) LoadInstantTransfers() ([]InstantTransferRecord, error) {
	var out []InstantTransferRecord
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTransfer)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec InstantTransferRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := out[i].Nonce, out[j].Nonce
		if ni == nil || nj == nil {
			return nj != nil
		}
		return ni.Cmp(nj) < 0
	})
	return out, nil
}

// DeleteInstantTransfer drops the record for hash, if present.
func (d *DB) DeleteInstantTransfer(txHash string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(prefixTransfer + txHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// PeerMeta mirrors the dapp metadata exchanged in the session handshake.
type PeerMeta struct {
	URL   string   `json:"url"`
	Name  string   `json:"name"`
	Icons []string `json:"icons"`
}

// StoredSession is the single persisted dapp session, keyed by its
// handshake topic.
type StoredSession struct {
	Topic    string    `json:"topic"`
	Version  string    `json:"version"`
	Bridge   string    `json:"bridge"`
	Key      string    `json:"key"` // hex symmetric key
	ClientID string    `json:"clientId"`
	PeerID   string    `json:"peerId"`
	PeerMeta *PeerMeta `json:"peerMeta"`
}

// PutSession persists the session, replacing any previous one.
func (d *DB) PutSession(s StoredSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySession), raw)
	})
}

// GetSession returns the persisted session, or nil when none exists.
func (d *DB) GetSession() (*StoredSession, error) {
	var out *StoredSession
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySession))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var s StoredSession
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			out = &s
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearSession removes the persisted session, if any.
func (d *DB) ClearSession() error {
	return d.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keySession))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// CachedTokenInfo is the persisted form of token metadata.
type CachedTokenInfo struct {
	Address   common.Address `json:"address"`
	Symbol    string         `json:"symbol"`
	Name      string         `json:"name"`
	Decimals  int            `json:"decimals"`
	LogoURI   string         `json:"logoUri"`
	UpdatedAt int64          `json:"updatedAt"`
}

// PutTokenInfo upserts cached metadata for a token.
func (d *DB) PutTokenInfo(info CachedTokenInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixToken+info.Address.Hex()), raw)
	})
}

// GetTokenInfo returns cached metadata, or nil on a miss.
func (d *DB) GetTokenInfo(token common.Address) (*CachedTokenInfo, error) {
	var out *CachedTokenInfo
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixToken + token.Hex()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var info CachedTokenInfo
			if err := json.Unmarshal(val, &info); err != nil {
				return err
			}
			out = &info
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
