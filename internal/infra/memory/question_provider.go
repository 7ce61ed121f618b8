package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"duel-quiz-service/internal/domain"
)

// QuestionLoader fetches the question pool from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionProvider serves round questions from a TTL-cached pool so the
// backing store is not hit once per round.
type QuestionProvider struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.Mutex
	pool      []domain.Question
	expiresAt time.Time
	next      int
}

func NewQuestionProvider(loader QuestionLoader, ttl time.Duration) *QuestionProvider {
	return &QuestionProvider{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FetchQuestion returns the next question from the pool, reloading it
// through singleflight when the TTL lapses.
func (p *QuestionProvider) FetchQuestion(ctx context.Context) (domain.Question, error) {
	now := p.clock()

	p.mu.Lock()
	if len(p.pool) > 0 && p.expiresAt.After(now) {
		question := p.pool[p.next%len(p.pool)]
		p.next++
		p.mu.Unlock()
		return question, nil
	}
	p.mu.Unlock()

	_, err, _ := p.sf.Do("pool", func() (interface{}, error) {
		now := p.clock()
		p.mu.Lock()
		fresh := len(p.pool) > 0 && p.expiresAt.After(now)
		p.mu.Unlock()
		if fresh {
			return nil, nil
		}

		pool, err := p.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return nil, domain.ErrQuestionUnavailable
		}

		p.mu.Lock()
		p.pool = pool
		p.expiresAt = now.Add(p.ttlWithJitter())
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return domain.Question{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pool) == 0 {
		return domain.Question{}, domain.ErrQuestionUnavailable
	}
	question := p.pool[p.next%len(p.pool)]
	p.next++
	return question, nil
}

func (p *QuestionProvider) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(p.ttl) / 10
	return p.ttl + time.Duration(p.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed question list (tests/demos).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	if len(l.questions) == 0 {
		return nil, domain.ErrQuestionUnavailable
	}
	return l.questions, nil
}
