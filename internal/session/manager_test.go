// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/SeisComP/common-sub009/pkg/status"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCreateSession(t *testing.T) {
	mgr := NewManager(5, testLogger())

	sess := mgr.CreateSession(context.Background(), "client-1")
	if sess.ClientID != "client-1" {
		t.Fatalf("expected client-1, got %s", sess.ClientID)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if cap(sess.Downstream) != 5 {
		t.Fatalf("expected channel size 5, got %d", cap(sess.Downstream))
	}
	if mgr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", mgr.ActiveCount())
	}
	if found, ok := mgr.SessionByClientID("client-1"); !ok || found != sess {
		t.Fatal("expected lookup by client id to find the session")
	}

	if err := mgr.DestroySession(sess.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-sess.Done():
	default:
		t.Fatal("expected destroyed session to be done")
	}
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active sessions after destroy, got %d", mgr.ActiveCount())
	}
}

func TestDefaultChannelSize(t *testing.T) {
	mgr := NewManager(0, testLogger())
	sess := mgr.CreateSession(context.Background(), "c")
	if cap(sess.Downstream) != DefaultChannelSize {
		t.Fatalf("expected %d, got %d", DefaultChannelSize, cap(sess.Downstream))
	}
}

func TestDestroyNonexistentSession(t *testing.T) {
	mgr := NewManager(1, testLogger())

	err := mgr.DestroySession("nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDestroyAll(t *testing.T) {
	mgr := NewManager(1, testLogger())
	for i := 0; i < 5; i++ {
		mgr.CreateSession(context.Background(), "client")
	}

	mgr.DestroyAll()
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 sessions, got %d", mgr.ActiveCount())
	}
}

func TestBroadcast(t *testing.T) {
	mgr := NewManager(1, testLogger())
	a := mgr.CreateSession(context.Background(), "a")
	b := mgr.CreateSession(context.Background(), "b")

	if n := mgr.Broadcast(status.Report{ClientName: "first"}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if got := (<-a.Downstream).ClientName; got != "first" {
		t.Fatalf("expected first, got %s", got)
	}

	// b still holds the first report, so the second one is dropped for it.
	if n := mgr.Broadcast(status.Report{ClientName: "second"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if b.Dropped() != 1 {
		t.Fatalf("expected 1 dropped report, got %d", b.Dropped())
	}
	if got := (<-b.Downstream).ClientName; got != "first" {
		t.Fatalf("expected first, got %s", got)
	}
}

func TestCancelledContextEndsSession(t *testing.T) {
	mgr := NewManager(1, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	sess := mgr.CreateSession(ctx, "c")
	cancel()

	<-sess.Done()
	if n := mgr.Broadcast(status.Report{}); n != 0 {
		t.Fatalf("expected no delivery to a finished session, got %d", n)
	}
}
