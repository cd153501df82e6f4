package mocks

import (
	"context"
	"sync"

	"github.com/jonathan/viral-agents/internal/collect"
	"github.com/jonathan/viral-agents/internal/notify"
)

// Collection serves canned results per target
type Collection struct {
	Results map[string]*collect.Result
	Errs    map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *Collection) Collect(_ context.Context, target string, mode collect.Mode) (*collect.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(mode)+":"+target)
	if err, ok := f.Errs[target]; ok {
		return nil, err
	}
	if res, ok := f.Results[target]; ok {
		return res, nil
	}
	if mode == collect.ModeProfileTimeline {
		return &collect.Result{Kind: collect.KindSocial}, nil
	}
	return &collect.Result{Kind: collect.KindSearch}, nil
}

// Calls returns every request as "mode:target"
func (f *Collection) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Notifier records notifications
type Notifier struct {
	Err error

	mu      sync.Mutex
	texts   []string
	actions [][]notify.Action
}

func (f *Notifier) Send(ctx context.Context, text string) error {
	return f.SendWithActions(ctx, text, nil)
}

func (f *Notifier) SendWithActions(_ context.Context, text string, actions []notify.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.actions = append(f.actions, actions)
	return f.Err
}

// Texts returns every sent text
func (f *Notifier) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// Actions returns the buttons of every sent notification
func (f *Notifier) Actions() [][]notify.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]notify.Action(nil), f.actions...)
}

// Trending returns fixed headlines
type Trending struct {
	Headlines []string
	Err       error
}

func (f *Trending) Trending(context.Context, int) ([]string, error) {
	return f.Headlines, f.Err
}
