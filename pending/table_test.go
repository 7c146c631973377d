package pending

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/lightbridge/alloc"
	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
)

type recordingWaker struct {
	woken []executor.TaskID
}

func (w *recordingWaker) Wake(id executor.TaskID) bool {
	w.woken = append(w.woken, id)
	return true
}

func newTestTable(t *testing.T) (*Table, *recordingWaker, *alloc.Arena) {
	t.Helper()
	w := &recordingWaker{}
	arena := alloc.NewArena(alloc.NewHeapMemory(1, 16))
	return New(w, arena), w, arena
}

func TestTable_RegisterResolveTake(t *testing.T) {
	tbl, w, arena := newTestTable(t)

	h := tbl.Register(KindStorageGet, 7, StorageGetParams{Key: []byte("k")})
	if h == 0 {
		t.Fatal("Register returned zero handle")
	}
	if tbl.Ready(h) {
		t.Fatal("operation ready before resolve")
	}
	if _, ok := tbl.Take(h); ok {
		t.Fatal("Take succeeded before resolve")
	}

	reqs := tbl.DrainRequests()
	if len(reqs) != 1 || reqs[0].Handle != h || reqs[0].Kind != KindStorageGet || reqs[0].Cancel {
		t.Fatalf("requests = %+v", reqs)
	}
	if len(tbl.DrainRequests()) != 0 {
		t.Fatal("DrainRequests should clear the outbox")
	}

	if err := tbl.Resolve(h, []byte("value"), nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(w.woken) != 1 || w.woken[0] != 7 {
		t.Fatalf("woken = %v", w.woken)
	}
	if arena.Stats().InUse == 0 {
		t.Fatal("payload should be staged in the arena")
	}

	res, ok := tbl.Take(h)
	if !ok {
		t.Fatal("Take failed after resolve")
	}
	if string(res.Payload) != "value" || res.Err != nil {
		t.Fatalf("result = %q, %v", res.Payload, res.Err)
	}
	if arena.Stats().InUse != 0 {
		t.Fatalf("arena in use after Take = %d", arena.Stats().InUse)
	}
	if _, ok := tbl.Take(h); ok {
		t.Fatal("result consumed twice")
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d", tbl.Len())
	}
}

func TestTable_ResolveError(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	h := tbl.Register(KindSocketConnect, 1, SocketConnectParams{Address: "127.0.0.1:1"})

	hostErr := stderrors.New("connection refused")
	if err := tbl.Resolve(h, nil, hostErr); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res, ok := tbl.Take(h)
	if !ok || res.Err != hostErr || res.Payload != nil {
		t.Fatalf("Take = %+v, %v", res, ok)
	}
}

func TestTable_ResolveContractViolations(t *testing.T) {
	tbl, w, _ := newTestTable(t)

	if err := tbl.Resolve(999, []byte("x"), nil); err != ErrUnknownHandle {
		t.Fatalf("Resolve(999) = %v", err)
	}

	h := tbl.Register(KindTimer, 1, TimerParams{})
	if err := tbl.Resolve(h, nil, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := tbl.Resolve(h, []byte("again"), nil); err != ErrAlreadyResolved {
		t.Fatalf("double Resolve = %v", err)
	}
	if len(w.woken) != 1 {
		t.Fatalf("violations must not wake tasks, woken = %v", w.woken)
	}

	tbl.Take(h)
	if err := tbl.Resolve(h, nil, nil); err != ErrStaleHandle {
		t.Fatalf("Resolve after Take = %v", err)
	}

	st := tbl.Stats()
	if st.Violations != 2 || st.Ignored != 1 || st.Resolved != 1 || st.Taken != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if errors.KindOf(ErrUnknownHandle) != errors.KindHostContract {
		t.Fatal("contract errors must carry KindHostContract")
	}
}

func TestTable_Abandon(t *testing.T) {
	tests := []struct {
		name       string
		kind       Kind
		wantCancel bool
	}{
		{"cancellable", KindSocketRead, true},
		{"timer", KindTimer, true},
		{"not cancellable", KindStorageGet, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, w, _ := newTestTable(t)
			h := tbl.Register(tt.kind, 3, nil)
			tbl.DrainRequests()

			if !tbl.Abandon(h) {
				t.Fatal("Abandon of live handle returned false")
			}
			if tbl.Abandon(h) {
				t.Fatal("second Abandon returned true")
			}

			reqs := tbl.DrainRequests()
			if tt.wantCancel {
				if len(reqs) != 1 || !reqs[0].Cancel || reqs[0].Handle != h {
					t.Fatalf("cancel requests = %+v", reqs)
				}
			} else if len(reqs) != 0 {
				t.Fatalf("unexpected requests %+v", reqs)
			}

			if err := tbl.Resolve(h, []byte("late"), nil); err != ErrStaleHandle {
				t.Fatalf("late Resolve = %v", err)
			}
			if len(w.woken) != 0 {
				t.Fatalf("late resolve woke %v", w.woken)
			}
		})
	}
}

func TestTable_AbandonResolvedReleasesPayload(t *testing.T) {
	tbl, _, arena := newTestTable(t)
	h := tbl.Register(KindSocketRead, 1, nil)
	tbl.DrainRequests()
	tbl.Resolve(h, make([]byte, 128), nil)

	tbl.Abandon(h)
	if arena.Stats().InUse != 0 {
		t.Fatalf("arena in use = %d", arena.Stats().InUse)
	}
	if reqs := tbl.DrainRequests(); len(reqs) != 0 {
		t.Fatalf("resolved operation should not be cancelled, got %+v", reqs)
	}
}

func TestTable_ReleaseTask(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	a := tbl.Register(KindTimer, 1, nil)
	b := tbl.Register(KindSocketRead, 1, nil)
	other := tbl.Register(KindTimer, 2, nil)

	if got := len(tbl.Handles(1)); got != 2 {
		t.Fatalf("Handles(1) = %d", got)
	}
	tbl.ReleaseTask(1)

	for _, h := range []Handle{a, b} {
		if err := tbl.Resolve(h, nil, nil); err != ErrStaleHandle {
			t.Fatalf("Resolve(%v) after release = %v", h, err)
		}
	}
	if w, ok := tbl.Waiter(other); !ok || w != 2 {
		t.Fatal("other task's operation must survive")
	}
	if len(tbl.Handles(1)) != 0 {
		t.Fatal("released task still tracked")
	}
	tbl.ReleaseTask(1)
}

func TestTable_HandlesNotReused(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := tbl.Register(KindTimer, 1, nil)
		if seen[h] {
			t.Fatalf("handle %v issued twice", h)
		}
		seen[h] = true
		tbl.Abandon(h)
	}
}

func TestTable_Notify(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	tbl.Notify(KindSocketClose, SocketCloseParams{Socket: 4})
	reqs := tbl.DrainRequests()
	if len(reqs) != 1 || reqs[0].Handle != 0 || reqs[0].Kind != KindSocketClose {
		t.Fatalf("requests = %+v", reqs)
	}
	if tbl.Len() != 0 {
		t.Fatal("Notify must not create an operation")
	}
}

func TestTable_WithExecutor(t *testing.T) {
	exec := executor.New()
	tbl := New(exec, alloc.NewArena(alloc.NewHeapMemory(1, 4)))
	exec.OnRelease(tbl)

	var h Handle
	var got string
	id := exec.Spawn(executor.TaskFunc(func(cx *executor.Context) executor.Outcome {
		if h == 0 {
			h = tbl.Register(KindStorageGet, cx.ID(), StorageGetParams{Key: []byte("a")})
			return executor.Park
		}
		res, ok := tbl.Take(h)
		if !ok {
			return executor.Park
		}
		got = string(res.Payload)
		return executor.Done
	}))

	if _, err := exec.RunUntilIdle(0); err != nil {
		t.Fatal(err)
	}
	if st, _ := exec.State(id); st != executor.StateSuspended {
		t.Fatalf("state = %v", st)
	}
	if err := tbl.Resolve(h, []byte("b"), nil); err != nil {
		t.Fatal(err)
	}
	if q := exec.ReadyQueue(); len(q) != 1 || q[0] != id {
		t.Fatalf("ready queue = %v", q)
	}
	exec.RunUntilIdle(0)
	if got != "b" {
		t.Fatalf("got %q", got)
	}
	if tbl.Len() != 0 {
		t.Fatal("operation leaked")
	}
}

func TestTable_CancelTaskAbandonsOperations(t *testing.T) {
	exec := executor.New()
	tbl := New(exec, alloc.NewArena(alloc.NewHeapMemory(1, 4)))
	exec.OnRelease(tbl)

	var h Handle
	id := exec.Spawn(executor.TaskFunc(func(cx *executor.Context) executor.Outcome {
		h = tbl.Register(KindSocketRead, cx.ID(), SocketReadParams{Socket: 1, MaxBytes: 10})
		return executor.Park
	}))
	exec.RunUntilIdle(0)
	tbl.DrainRequests()

	exec.Cancel(id)
	reqs := tbl.DrainRequests()
	if len(reqs) != 1 || !reqs[0].Cancel {
		t.Fatalf("cancel should reach the host, got %+v", reqs)
	}
	if err := tbl.Resolve(h, []byte("late"), nil); err != ErrStaleHandle {
		t.Fatalf("late resolve = %v", err)
	}
	if exec.Queued() != 0 {
		t.Fatal("late resolve must not enqueue anything")
	}
}

func TestKinds(t *testing.T) {
	k := RegisterKind("test-fetch", true)
	if k2 := RegisterKind("test-fetch", false); k2 != k {
		t.Fatalf("re-register = %v, want %v", k2, k)
	}
	if !k.Cancellable() || k.String() != "test-fetch" {
		t.Fatalf("kind = %v cancellable=%v", k, k.Cancellable())
	}
	if got, ok := KindByName("test-fetch"); !ok || got != k {
		t.Fatalf("KindByName = %v, %v", got, ok)
	}
	if _, ok := KindByName("invalid"); ok {
		t.Fatal("invalid kind must not be found by name")
	}
	if s := Kind(60000).String(); s != "kind(60000)" {
		t.Fatalf("unknown kind String = %q", s)
	}
	text, _ := KindStorageGet.MarshalText()
	if string(text) != "storage-get" {
		t.Fatalf("MarshalText = %q", text)
	}
}

func TestSocketPayload(t *testing.T) {
	id, err := DecodeSocket(EncodeSocket(42))
	if err != nil || id != 42 {
		t.Fatalf("DecodeSocket = %d, %v", id, err)
	}
	if _, err := DecodeSocket([]byte{1, 2}); errors.KindOf(err) != errors.KindInvalidInput {
		t.Fatalf("short payload error = %v", err)
	}
}
