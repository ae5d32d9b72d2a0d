// Package keylock はキー単位の排他制御を提供する。
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// KeyLock はキーごとに1つだけ実行を許可するロック。
// 待機者がいなくなったキーのエントリは解放する。
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New はKeyLockを生成する。
func New() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

// Lock はキーのロックを取得する。ctxがキャンセルされた場合はエラーを返す。
// 成功時は必ず返されたunlockを呼び出すこと。
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *KeyLock) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len は現在保持しているキーの数を返す。
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
