package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"duel-quiz-service/internal/domain"
)

// QuestionLoader fetches the question pool from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionProvider caches the serialized question pool in Redis
// (SET match:questions {json} with TTL) and falls back to the loader on a
// cache miss, stampede-guarded with singleflight.
type QuestionProvider struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	// rnd is not goroutine-safe; sessions fetch concurrently
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionProvider(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionProvider {
	return &QuestionProvider{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

const poolKey = "match:questions"

func (p *QuestionProvider) FetchQuestion(ctx context.Context) (domain.Question, error) {
	pool, err := p.pool(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	p.rndMu.Lock()
	i := p.rnd.Intn(len(pool))
	p.rndMu.Unlock()
	return pool[i], nil
}

func (p *QuestionProvider) pool(ctx context.Context) ([]domain.Question, error) {
	if pool, ok := p.cached(ctx); ok {
		return pool, nil
	}

	result, err, _ := p.sf.Do(poolKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := p.cached(ctx); ok {
			return pool, nil
		}

		pool, err := p.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return nil, domain.ErrQuestionUnavailable
		}

		raw, err := json.Marshal(pool)
		if err != nil {
			return nil, err
		}
		_ = p.client.Set(ctx, poolKey, raw, p.ttlWithJitter()).Err()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (p *QuestionProvider) cached(ctx context.Context) ([]domain.Question, bool) {
	raw, err := p.client.Get(ctx, poolKey).Bytes()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil || len(pool) == 0 {
		return nil, false
	}
	return pool, true
}

func (p *QuestionProvider) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	jitterMax := int64(p.ttl) / 10
	p.rndMu.Lock()
	jitter := p.rnd.Int63n(jitterMax + 1)
	p.rndMu.Unlock()
	return p.ttl + time.Duration(jitter)
}
