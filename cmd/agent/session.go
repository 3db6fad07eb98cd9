package main

import (
	"fmt"
	"sync"
)

// standaloneSession is the minimal session used when the agent runs on its
// own instead of embedded in a host application. The token is fixed for the
// process lifetime; auth-state pushes are printed rather than applied to a UI.
type standaloneSession struct {
	mu    sync.Mutex
	token string
	stop  func()
}

func newStandaloneSession(token string, stop func()) *standaloneSession {
	return &standaloneSession{token: token, stop: stop}
}

func (s *standaloneSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *standaloneSession) ReplaceAuthState(role string, permissions, features map[string]bool) {
	fmt.Printf("auth state replaced: role=%s permissions=%d features=%d\n",
		role, len(permissions), len(features))
}

func (s *standaloneSession) Logout(reason string) {
	fmt.Println("session terminated:", reason)
	s.stop()
}
