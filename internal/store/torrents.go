package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

// TorrentAPI is the REST surface the torrent store needs.
type TorrentAPI interface {
	ListTorrents(ctx context.Context, filter torrentino.TorrentFilter) (torrentino.TorrentList, error)
	GetTorrent(ctx context.Context, hash string) (torrentino.Torrent, error)
	AddMagnet(ctx context.Context, uri string, opts torrentino.AddTorrentOptions) (torrentino.AddTorrentResult, error)
	AddTorrentFile(ctx context.Context, filename string, data []byte, opts torrentino.AddTorrentOptions) (torrentino.AddTorrentResult, error)
	RemoveTorrent(ctx context.Context, hash string, deleteFiles bool) error
	PauseTorrent(ctx context.Context, hash string) error
	ResumeTorrent(ctx context.Context, hash string) error
	RecheckTorrent(ctx context.Context, hash string) error
	SetUploadLimit(ctx context.Context, hash string, limit uint64) error
	SetDownloadLimit(ctx context.Context, hash string, limit uint64) error
}

// TorrentSnapshot is an immutable view of the torrent store.
type TorrentSnapshot = Snapshot[torrentino.TorrentFilter, torrentino.Torrent]

// Torrents caches the torrent client's transfers.
type Torrents struct {
	*Resource[torrentino.TorrentFilter, torrentino.Torrent]
	api TorrentAPI
}

// NewTorrents builds a torrent store backed by api. The server returns the
// whole filtered list at once, so pages are cut locally.
func NewTorrents(api TorrentAPI, pageSize int, report func(error), log zerolog.Logger) *Torrents {
	res := NewResource(Config[torrentino.TorrentFilter, torrentino.Torrent]{
		Name:  "torrents",
		ID:    TorrentID,
		Clone: torrentino.Torrent.Clone,
		List: func(ctx context.Context, f torrentino.TorrentFilter, limit, offset int) (Page[torrentino.Torrent], error) {
			list, err := api.ListTorrents(ctx, f)
			if err != nil {
				return Page[torrentino.Torrent]{}, err
			}
			return slicePage(list.Torrents, limit, offset), nil
		},
		Get:      api.GetTorrent,
		PageSize: pageSize,
		Logger:   log,
		Report:   report,
	})
	return &Torrents{Resource: res, api: api}
}

// TorrentID extracts a torrent's key, its info hash.
func TorrentID(t torrentino.Torrent) string { return t.Hash }

func slicePage[T any](all []T, limit, offset int) Page[T] {
	page := Page[T]{Total: len(all)}
	if offset >= len(all) {
		return page
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page.Items = all[offset:end]
	return page
}

// AddMagnet adds a magnet link and caches the resulting torrent.
func (s *Torrents) AddMagnet(ctx context.Context, uri string, opts torrentino.AddTorrentOptions) (torrentino.Torrent, error) {
	return s.Create(ctx, func(ctx context.Context) (torrentino.Torrent, error) {
		res, err := s.api.AddMagnet(ctx, uri, opts)
		if err != nil {
			return torrentino.Torrent{}, err
		}
		return s.resolveAdded(ctx, res), nil
	})
}

// AddFile uploads a .torrent file and caches the resulting torrent.
func (s *Torrents) AddFile(ctx context.Context, filename string, data []byte, opts torrentino.AddTorrentOptions) (torrentino.Torrent, error) {
	return s.Create(ctx, func(ctx context.Context) (torrentino.Torrent, error) {
		res, err := s.api.AddTorrentFile(ctx, filename, data, opts)
		if err != nil {
			return torrentino.Torrent{}, err
		}
		return s.resolveAdded(ctx, res), nil
	})
}

// resolveAdded loads the full torrent for an add result. The add already
// succeeded, so a failed lookup falls back to what the add returned.
func (s *Torrents) resolveAdded(ctx context.Context, res torrentino.AddTorrentResult) torrentino.Torrent {
	t, err := s.api.GetTorrent(ctx, res.Hash)
	if err != nil {
		s.log.Debug().Err(err).Str("hash", res.Hash).Msg("lookup after add failed")
		return torrentino.Torrent{Hash: res.Hash, Name: res.Name, State: torrentino.TorrentQueued}
	}
	return t
}

// Pause pauses hash. The paused state is shown immediately.
func (s *Torrents) Pause(ctx context.Context, hash string) error {
	return s.Mutate(ctx, hash, Mutation[torrentino.Torrent]{
		Kind: MutationPause,
		Optimistic: func(t torrentino.Torrent) torrentino.Torrent {
			t.State = torrentino.TorrentPaused
			t.DownloadSpeed = 0
			t.UploadSpeed = 0
			return t
		},
		Do: func(ctx context.Context) (*torrentino.Torrent, error) {
			return nil, s.api.PauseTorrent(ctx, hash)
		},
	})
}

// Resume resumes hash. The resulting state depends on the torrent client,
// so it is re-fetched.
func (s *Torrents) Resume(ctx context.Context, hash string) error {
	return s.Mutate(ctx, hash, Mutation[torrentino.Torrent]{
		Kind:    MutationResume,
		Refetch: true,
		Do: func(ctx context.Context) (*torrentino.Torrent, error) {
			return nil, s.api.ResumeTorrent(ctx, hash)
		},
	})
}

// Recheck forces a hash check of hash's data.
func (s *Torrents) Recheck(ctx context.Context, hash string) error {
	return s.Mutate(ctx, hash, Mutation[torrentino.Torrent]{
		Kind:    MutationRecheck,
		Refetch: true,
		Do: func(ctx context.Context) (*torrentino.Torrent, error) {
			return nil, s.api.RecheckTorrent(ctx, hash)
		},
	})
}

// SetUploadLimit sets hash's upload cap in bytes per second; 0 is unlimited.
func (s *Torrents) SetUploadLimit(ctx context.Context, hash string, limit uint64) error {
	return s.Mutate(ctx, hash, Mutation[torrentino.Torrent]{
		Kind: MutationUploadLimit,
		Optimistic: func(t torrentino.Torrent) torrentino.Torrent {
			t.UploadLimit = limit
			return t
		},
		Do: func(ctx context.Context) (*torrentino.Torrent, error) {
			return nil, s.api.SetUploadLimit(ctx, hash, limit)
		},
	})
}

// SetDownloadLimit sets hash's download cap in bytes per second; 0 is
// unlimited.
func (s *Torrents) SetDownloadLimit(ctx context.Context, hash string, limit uint64) error {
	return s.Mutate(ctx, hash, Mutation[torrentino.Torrent]{
		Kind: MutationDownloadLimit,
		Optimistic: func(t torrentino.Torrent) torrentino.Torrent {
			t.DownloadLimit = limit
			return t
		},
		Do: func(ctx context.Context) (*torrentino.Torrent, error) {
			return nil, s.api.SetDownloadLimit(ctx, hash, limit)
		},
	})
}

// Delete removes hash from the torrent client, optionally with its data.
func (s *Torrents) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	return s.Remove(ctx, hash, func(ctx context.Context) error {
		return s.api.RemoveTorrent(ctx, hash, deleteFiles)
	})
}

// Apply merges a push message into the cache.
func (s *Torrents) Apply(msg push.Message) {
	m, ok := msg.(push.TorrentProgress)
	if !ok {
		return
	}
	s.Patch(m.InfoHash, func(t torrentino.Torrent) torrentino.Torrent {
		t.Progress = m.ProgressPct / 100
		t.DownloadSpeed = m.SpeedBps
		if m.ETASecs != nil {
			eta := *m.ETASecs
			t.ETASecs = &eta
		} else {
			t.ETASecs = nil
		}
		return t
	})
}
