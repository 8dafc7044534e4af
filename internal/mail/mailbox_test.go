package mail

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// imapServer starts an in-memory IMAP server and returns its address. The
// memory backend has a single user "username" with password "password".
func imapServer(t *testing.T) string {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })
	return l.Addr().String()
}

func testMailbox(t *testing.T, addr string, r *Resolver) *Mailbox {
	t.Helper()
	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	m, err := open(context.Background(), c, Options{
		Username: "username",
		Password: "password",
		Folder:   "INBOX",
		Sender:   "noreply@royalroad.com",
		Subject:  "New Chapter of",
		Resolver: r,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func appendMail(t *testing.T, addr, from, subject, body string) {
	t.Helper()
	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Logout()
	if err := c.Login("username", "password"); err != nil {
		t.Fatalf("login: %v", err)
	}

	raw := "From: " + from + "\r\n" +
		"To: reader@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
	if err := c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(raw)); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func seenFlags(t *testing.T, addr string) map[string]bool {
	t.Helper()
	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Logout()
	if err := c.Login("username", "password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		t.Fatalf("select: %v", err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags}, messages)
	}()

	seen := make(map[string]bool)
	for msg := range messages {
		for _, f := range msg.Flags {
			if f == imap.SeenFlag {
				seen[msg.Envelope.Subject] = true
			}
		}
		if !seen[msg.Envelope.Subject] {
			seen[msg.Envelope.Subject] = false
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("fetch flags: %v", err)
	}
	return seen
}

func TestFetchUnseenLifecycle(t *testing.T) {
	srv := testServer(t)
	addr := imapServer(t)

	appendMail(t, addr, "Royal Road <noreply@royalroad.com>", "New Chapter of Example Tale",
		"Jane has just posted a new chapter of A tale titled Chapter 2\r\n"+srv.URL+"/click/ok")
	appendMail(t, addr, "Royal Road <noreply@royalroad.com>", "New Chapter of Old Tale",
		"Jane has just posted a new chapter of Old titled Gone\r\n"+srv.URL+"/click/broken")
	appendMail(t, addr, "someone@example.org", "New Chapter of Spoof",
		"Eve has just posted a new chapter of Fake titled Nope\r\n"+srv.URL+"/click/ok")

	m := testMailbox(t, addr, NewResolver(5*time.Second))
	ctx := context.Background()

	updates, err := m.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d: %+v", len(updates), updates)
	}
	u := updates[0]
	if u.Subject != "New Chapter of Example Tale" {
		t.Errorf("subject = %q", u.Subject)
	}
	if u.From != "noreply@royalroad.com" {
		t.Errorf("from = %q", u.From)
	}
	if !strings.Contains(u.Body, srv.URL+"/fiction/1/example/chapter/2") {
		t.Errorf("chapter url not resolved: %q", u.Body)
	}
	if !u.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || u.Date.Location() != time.UTC {
		t.Errorf("date = %s", u.Date)
	}

	flags := seenFlags(t, addr)
	if flags["New Chapter of Example Tale"] {
		t.Error("fetching should not flag the notification seen")
	}
	if !flags["New Chapter of Old Tale"] {
		t.Error("notification with a broken link should be flagged seen")
	}
	if flags["New Chapter of Spoof"] {
		t.Error("mail from another sender should be left alone")
	}

	again, err := m.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(again) != 1 || again[0].UID != u.UID {
		t.Fatalf("unflagged notification should be fetched again, got %+v", again)
	}

	if err := m.MarkSeen(ctx, []uint32{u.UID}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	after, err := m.FetchUnseen(ctx)
	if err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("expected no updates after marking seen, got %d", len(after))
	}
}

func TestFetchUnseenLeavesTransientFailuresUnseen(t *testing.T) {
	addr := imapServer(t)

	// Nothing listens on this port, so resolution fails without an HTTP status.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := "http://" + l.Addr().String() + "/click/ok"
	l.Close()

	appendMail(t, addr, "noreply@royalroad.com", "New Chapter of Flaky", "link "+dead)

	m := testMailbox(t, addr, NewResolver(2*time.Second))
	updates, err := m.FetchUnseen(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected the notification to be skipped, got %d", len(updates))
	}
	if seenFlags(t, addr)["New Chapter of Flaky"] {
		t.Error("transient failure should leave the notification unseen")
	}
}

func TestFetchUnseenEmpty(t *testing.T) {
	m := testMailbox(t, imapServer(t), NewResolver(time.Second))
	updates, err := m.FetchUnseen(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("expected no updates, got %d", len(updates))
	}
}

func TestMarkSeenNothing(t *testing.T) {
	m := testMailbox(t, imapServer(t), NewResolver(time.Second))
	if err := m.MarkSeen(context.Background(), nil); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
}

func TestWaitForMailTimeout(t *testing.T) {
	srv := testServer(t)
	addr := imapServer(t)
	m := testMailbox(t, addr, NewResolver(5*time.Second))

	start := time.Now()
	got, err := m.WaitForMail(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got {
		t.Error("no mail arrived, expected false")
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Error("returned before the timeout")
	}

	// The session must be usable again, which needs IDLE to be done.
	appendMail(t, addr, "noreply@royalroad.com", "New Chapter of After Idle",
		"Jane has just posted a new chapter of X titled Y\r\n"+srv.URL+"/click/ok")
	updates, err := m.FetchUnseen(context.Background())
	if err != nil {
		t.Fatalf("fetch after idle: %v", err)
	}
	if len(updates) != 1 {
		t.Errorf("expected 1 update after idle, got %d", len(updates))
	}
}

func TestWaitForMailCancelled(t *testing.T) {
	m := testMailbox(t, imapServer(t), NewResolver(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	got, err := m.WaitForMail(ctx, time.Minute)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got {
		t.Error("expected false on cancel")
	}
	if _, err := m.FetchUnseen(context.Background()); err != nil {
		t.Errorf("session unusable after cancelled idle: %v", err)
	}
}

func TestOpenCancelled(t *testing.T) {
	addr := imapServer(t)
	c, err := client.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = open(ctx, c, Options{Username: "username", Password: "password", Folder: "INBOX"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dial(ctx, Options{Address: imapServer(t)})
	if err == nil {
		t.Fatal("expected an error dialing with a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}
