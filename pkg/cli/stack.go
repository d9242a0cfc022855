package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/elderwise/companion/pkg/config"
	"github.com/elderwise/companion/pkg/memory"
	"github.com/elderwise/companion/pkg/memory/classify"
	"github.com/elderwise/companion/pkg/memory/embed"
	"github.com/elderwise/companion/pkg/memory/scheduler"
	"github.com/elderwise/companion/pkg/memory/semantic"
	"github.com/elderwise/companion/pkg/memory/session"
	"github.com/elderwise/companion/pkg/memory/store"
)

// stack is the assembled memory system plus its teardown.
type stack struct {
	store      store.Store
	cache      *session.Cache
	index      *semantic.Index
	controller *memory.Controller
	scheduler  *scheduler.Scheduler
	closers    []func() error
}

func (st *stack) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		_ = st.closers[i]()
	}
}

// addCloser registers v's Close for teardown when it has one. The in-memory
// backends have nothing to release and simply aren't registered.
func (st *stack) addCloser(v any) {
	if closer, ok := v.(io.Closer); ok {
		st.closers = append(st.closers, closer.Close)
	}
}

// buildStack wires session, store, index and controller from settings.
func buildStack(ctx context.Context, cfg config.Settings) (*stack, error) {
	st := &stack{}

	fragmentStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, fragmentStore.Close)
	if cfg.ProfileCacheTTL > 0 {
		cached, err := store.NewCachedStore(fragmentStore, cfg.ProfileCacheTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("profile cache: %w", err)
		}
		st.store = cached
	} else {
		st.store = fragmentStore
	}

	backend, err := buildSessionBackend(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.addCloser(backend)
	st.cache = session.NewCache(backend, session.Config{
		MaxLength: cfg.SessionMax,
		TTL:       cfg.SessionTTL,
	})

	vectorBackend, err := buildVectorBackend(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.index = semantic.NewIndex(vectorBackend, embed.Auto())
	st.closers = append(st.closers, st.index.Close)

	classifier := classify.NewDefault()
	if cfg.VocabularyPath != "" {
		vocab, err := classify.LoadVocabulary(cfg.VocabularyPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		classifier = classify.New(vocab)
	}

	st.controller = memory.NewController(st.cache, st.store, st.index, classifier, memory.Options{
		TopK:            cfg.SearchTopK,
		RecentFragments: cfg.ContextFragments,
	})
	st.scheduler = scheduler.New(st.store, st.index, scheduler.Options{
		ActiveDays:  cfg.ActiveDays,
		ArchiveDays: cfg.ArchiveDays,
	})
	return st, nil
}

func buildStore(ctx context.Context, cfg config.Settings) (store.Store, error) {
	switch cfg.StoreBackend {
	case "mongo":
		ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return ms, nil
	case "postgres":
		ps, err := store.NewPostgresStore(ctx, cfg.PostgresURI)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if err := ps.CreateSchema(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return ps, nil
	case "memory", "":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func buildSessionBackend(ctx context.Context, cfg config.Settings) (session.Backend, error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryBackend(), nil
	}
	backend, err := session.NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis session backend: %w", err)
	}
	return backend, nil
}

func buildVectorBackend(ctx context.Context, cfg config.Settings) (semantic.Backend, error) {
	switch cfg.VectorBackend {
	case "chromem":
		if cfg.ChromemPath != "" {
			return semantic.NewPersistentChromemBackend(cfg.ChromemPath)
		}
		return semantic.NewChromemBackend(), nil
	case "qdrant":
		backend, err := semantic.NewQdrantBackend(ctx, cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
		if err != nil {
			return nil, fmt.Errorf("qdrant backend: %w", err)
		}
		return backend, nil
	case "memory", "":
		return semantic.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
}
