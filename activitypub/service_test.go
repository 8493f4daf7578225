package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/httpsig"
	"github.com/shelfpub/shelfpub/internal/httpx"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	// one shared-cache memory database per test, so parallel connections
	// from the pool see the same tables
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)

	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}

// createUser creates a user row with a generated keypair. Local users
// keep the private half.
func createUser(t *testing.T, db *gorm.DB, name, remoteID string, local bool, opts ...func(*models.User)) (*models.User, *crypto.Keypair) {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	u, err := url.Parse(remoteID)
	require.NoError(err)

	id := snowflake.Now()
	user := &models.User{
		ID:           id,
		RemoteID:     remoteID,
		Username:     name,
		Domain:       u.Host,
		Local:        local,
		DisplayName:  name,
		InboxURL:     remoteID + "/inbox",
		OutboxURL:    remoteID + "/outbox",
		FollowersURL: remoteID + "/followers",
	}
	for _, opt := range opts {
		opt(user)
	}
	user.KeyPair = &models.KeyPair{
		UserID:    id,
		RemoteID:  user.PublicKeyID(),
		PublicKey: kp.PublicKey,
	}
	if local {
		user.KeyPair.PrivateKey = kp.PrivateKey
	}
	require.NoError(db.Create(user).Error)
	return user, kp
}

func follow(t *testing.T, db *gorm.DB, follower, followed *models.User) {
	t.Helper()
	id := snowflake.Now()
	require.NoError(t, db.Create(&models.Follow{
		ID:       id,
		RemoteID: fmt.Sprintf("%s/follow/%d", follower.RemoteID, id),
		UserID:   follower.ID,
		TargetID: followed.ID,
		State:    models.FollowAccepted,
	}).Error)
}

// newTestService wires a service for the domain example.com with its
// service account in place.
func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	createUser(t, db, ServiceAccountName, "https://example.com/user/"+ServiceAccountName, true)
	return NewService(db, "example.com")
}

func actorDoc(remoteID, name string, publicKeyPem []byte) map[string]any {
	return map[string]any{
		"type":              "Person",
		"id":                remoteID,
		"preferredUsername": name,
		"inbox":             remoteID + "/inbox",
		"publicKey": map[string]any{
			"id":           remoteID + "/#main-key",
			"owner":        remoteID,
			"publicKeyPem": string(publicKeyPem),
		},
	}
}

func TestResolveUserFetchesOnce(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	var remoteID string
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/activity+json")
		_ = json.MarshalFull(w, actorDoc(remoteID, "frodo", kp.PublicKey))
	}))
	t.Cleanup(ts.Close)
	remoteID = ts.URL + "/user/frodo"

	ctx := context.Background()
	first, err := svc.ResolveUser(ctx, remoteID)
	require.NoError(err)
	require.Equal(1, hits)
	require.Equal("frodo", first.Username)
	require.False(first.Local)

	// a known identifier resolves from the database, not the network
	second, err := svc.ResolveUser(ctx, remoteID)
	require.NoError(err)
	require.Equal(1, hits)
	require.Equal(first.ID, second.ID)
}

func TestStatusToLocalIsIdempotent(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	author, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	raw := map[string]any{
		"type":         "Note",
		"id":           author.RemoteID + "/status/1",
		"attributedTo": author.RemoteID,
		"published":    "2026-08-01T10:00:00Z",
		"content":      "<p>hello</p>",
		"to":           []any{PublicAudience},
		"cc":           []any{author.FollowersURL},
	}
	a, err := Parse(raw)
	require.NoError(err)

	ctx := context.Background()
	first, err := svc.statusToLocal(svc.newResolveCtx(ctx), a, nil)
	require.NoError(err)
	require.Equal(author.ID, first.UserID)
	require.Equal(PrivacyPublic, first.Privacy)

	second, err := svc.statusToLocal(svc.newResolveCtx(ctx), a, nil)
	require.NoError(err)
	require.Equal(first.ID, second.ID)

	var count int64
	require.NoError(db.Model(&models.Status{}).Count(&count).Error)
	require.EqualValues(1, count)
}

func TestRecipientsPreferSharedInboxes(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)
	shared := func(u *models.User) { u.SharedInboxURL = "https://shire.example/inbox" }
	a, _ := createUser(t, db, "frodo", "https://shire.example/user/frodo", false, shared)
	b, _ := createUser(t, db, "pippin", "https://shire.example/user/pippin", false, shared)
	c, _ := createUser(t, db, "gimli", "https://erebor.example/user/gimli", false)
	follow(t, db, a, local)
	follow(t, db, b, local)
	follow(t, db, c, local)

	// two shared-inbox followers collapse into one recipient
	inboxes, err := svc.RecipientsFor(local, PrivacyPublic, nil, "")
	require.NoError(err)
	require.ElementsMatch([]string{"https://shire.example/inbox", c.InboxURL}, inboxes)

	// a mentioned follower is reached at its personal inbox, once
	inboxes, err = svc.RecipientsFor(local, PrivacyPublic, []*models.User{c}, "")
	require.NoError(err)
	require.ElementsMatch([]string{"https://shire.example/inbox", c.InboxURL}, inboxes)

	// direct messages skip followers entirely
	inboxes, err = svc.RecipientsFor(local, PrivacyDirect, []*models.User{c}, "")
	require.NoError(err)
	require.Equal([]string{c.InboxURL}, inboxes)
}

func TestBroadcastQueuesOneDeliveryPerRecipient(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)

	activity, err := Construct(Follow, map[string]any{
		"id":     local.RemoteID + "/follow/1",
		"actor":  local.RemoteID,
		"object": "https://remote.example/user/frodo",
	})
	require.NoError(err)

	ctx := context.Background()
	recipients := []string{"https://shire.example/inbox", "https://erebor.example/user/gimli/inbox"}
	require.NoError(svc.Broadcast(ctx, local, activity, recipients))

	var deliveries []*models.Delivery
	require.NoError(db.Find(&deliveries).Error)
	require.Len(deliveries, 2)
	require.Equal(deliveries[0].Payload, deliveries[1].Payload)
	require.Equal(local.ID, deliveries[0].SenderID)

	// remote-originated saves must never echo back out
	remote, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	require.Error(svc.Broadcast(ctx, remote, activity, recipients))
}

func postInbox(t *testing.T, svc *Service, body []byte, sign func(*http.Request)) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if sign != nil {
		sign(req)
	}
	rec := httptest.NewRecorder()
	return rec, svc.SharedInbox(rec, req)
}

func statusCode(t *testing.T, err error) int {
	t.Helper()
	se := new(httpx.StatusError)
	require.ErrorAs(t, err, &se)
	return se.Status()
}

func TestInboxRejectsGarbage(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	// malformed json
	_, err := postInbox(t, svc, []byte("{"), nil)
	require.Equal(http.StatusBadRequest, statusCode(t, err))

	// a type outside the vocabulary
	_, err = postInbox(t, svc, []byte(`{"type":"FlightItinerary","id":"https://x.example/1"}`), nil)
	require.Equal(http.StatusBadRequest, statusCode(t, err))

	// an activity with no object
	_, err = postInbox(t, svc, []byte(`{"type":"Create","id":"https://x.example/1","actor":"https://x.example/u"}`), nil)
	require.Equal(http.StatusBadRequest, statusCode(t, err))

	// well-formed but unsigned
	_, err = postInbox(t, svc, []byte(`{"type":"Create","id":"https://x.example/1","actor":"https://x.example/u","object":{"type":"Note"}}`), nil)
	require.Equal(http.StatusUnauthorized, statusCode(t, err))

	var count int64
	require.NoError(db.Model(&models.InboundActivity{}).Count(&count).Error)
	require.EqualValues(0, count)
}

func TestInboxAcceptsSignedActivity(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	signer, kp := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	body, err := json.Marshal(map[string]any{
		"type":   "Create",
		"id":     signer.RemoteID + "/status/1#Create",
		"actor":  signer.RemoteID,
		"object": map[string]any{"type": "Note", "id": signer.RemoteID + "/status/1"},
	})
	require.NoError(err)

	_, privateKey, err := crypto.ParseRSAPrivateKey(kp.PrivateKey)
	require.NoError(err)

	rec, err := postInbox(t, svc, body, func(r *http.Request) {
		require.NoError(httpsig.Sign(r, signer.PublicKeyID(), privateKey, body))
	})
	require.NoError(err)
	require.Equal(http.StatusOK, rec.Code)

	var queued []*models.InboundActivity
	require.NoError(db.Find(&queued).Error)
	require.Len(queued, 1)
	require.Equal(body, queued[0].Payload)
}

func TestInboxToleratesUnverifiableDelete(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	// the deleted actor's server is gone, the signature cannot be
	// checked; the Delete is acknowledged and discarded
	body := []byte(`{"type":"Delete","id":"https://gone.example/user/x#delete","actor":"https://gone.example/user/x","object":"https://gone.example/user/x"}`)
	rec, err := postInbox(t, svc, body, nil)
	require.NoError(err)
	require.Equal(http.StatusOK, rec.Code)

	var count int64
	require.NoError(db.Model(&models.InboundActivity{}).Count(&count).Error)
	require.EqualValues(0, count)
}

func TestVerifySignatureToleratesKeyRotation(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	// the cached key is about to go stale
	signer, _ := createUser(t, db, "frodo", "https://placeholder.invalid", false)

	rotated, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		_ = json.MarshalFull(w, actorDoc(signer.RemoteID, "frodo", rotated.PublicKey))
	}))
	t.Cleanup(ts.Close)

	signer.RemoteID = ts.URL + "/user/frodo"
	require.NoError(db.Model(signer).Update("remote_id", signer.RemoteID).Error)
	require.NoError(db.Model(signer.KeyPair).Update("remote_id", signer.PublicKeyID()).Error)

	body := []byte(`{"hello":"world"}`)
	req := httptest.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	_, rotatedKey, err := crypto.ParseRSAPrivateKey(rotated.PrivateKey)
	require.NoError(err)
	require.NoError(httpsig.Sign(req, signer.RemoteID+"#main-key", rotatedKey, body))

	verified, err := svc.VerifySignature(context.Background(), req, body)
	require.NoError(err)
	require.Equal(signer.ID, verified.ID)

	// the refreshed key is cached for the next request
	var pair models.KeyPair
	require.NoError(db.Where("user_id = ?", signer.ID).Take(&pair).Error)
	require.True(crypto.SameKey(rotated.PublicKey, pair.PublicKey))
}

func TestVerifySignatureRejectsRetiredKey(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	signer, current := createUser(t, db, "frodo", "https://placeholder.invalid", false)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		_ = json.MarshalFull(w, actorDoc(signer.RemoteID, "frodo", current.PublicKey))
	}))
	t.Cleanup(ts.Close)

	signer.RemoteID = ts.URL + "/user/frodo"
	require.NoError(db.Model(signer).Update("remote_id", signer.RemoteID).Error)
	require.NoError(db.Model(signer.KeyPair).Update("remote_id", signer.PublicKeyID()).Error)

	// a request signed with a key the actor no longer advertises: the
	// refresh finds the upstream key unchanged, so the failure stands
	retired, err := crypto.GenerateRSAKeypair()
	require.NoError(err)
	_, retiredKey, err := crypto.ParseRSAPrivateKey(retired.PrivateKey)
	require.NoError(err)

	body := []byte(`{"hello":"world"}`)
	req := httptest.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	require.NoError(httpsig.Sign(req, signer.RemoteID+"#main-key", retiredKey, body))

	_, err = svc.VerifySignature(context.Background(), req, body)
	require.ErrorIs(err, httpsig.ErrInvalidSignature)
}

func TestVerifySignatureRejectsStaleDate(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	signer, kp := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	_, privateKey, err := crypto.ParseRSAPrivateKey(kp.PrivateKey)
	require.NoError(err)

	body := []byte(`{"hello":"world"}`)
	req := httptest.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().Add(-10*time.Minute).UTC().Format(http.TimeFormat))
	require.NoError(httpsig.Sign(req, signer.PublicKeyID(), privateKey, body))

	_, err = svc.VerifySignature(context.Background(), req, body)
	require.ErrorIs(err, httpsig.ErrStaleSignature)
}

func TestTrimKeyID(t *testing.T) {
	require := require.New(t)
	require.Equal("https://x.example/user/frodo", trimKeyID("https://x.example/user/frodo#main-key"))
	require.Equal("https://x.example/user/frodo", trimKeyID("https://x.example/user/frodo/#main-key"))
	require.Equal("https://x.example/user/frodo", trimKeyID("https://x.example/user/frodo"))
}

func TestResolveUserRejectsBareKeyReference(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	var remoteID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		_ = json.MarshalFull(w, map[string]any{
			"type":              "Person",
			"id":                remoteID,
			"preferredUsername": "frodo",
			"inbox":             remoteID + "/inbox",
			// a reference where the key block should be
			"publicKey": remoteID + "#main-key",
		})
	}))
	t.Cleanup(ts.Close)
	remoteID = ts.URL + "/user/frodo"

	_, err := svc.ResolveUser(context.Background(), remoteID)
	serr := new(SerializerError)
	require.ErrorAs(err, &serr)

	var count int64
	require.NoError(db.Model(&models.User{}).Where("local = ?", false).Count(&count).Error)
	require.EqualValues(0, count)
}

func TestSameSoftwareFollowersMatchDeliveryFilter(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)
	doc := actorDoc("https://shire.example/user/frodo", "frodo", kp.PublicKey)
	doc["shelfpubUser"] = true
	a, err := Parse(doc)
	require.NoError(err)

	follower, err := svc.personToLocal(svc.newResolveCtx(context.Background()), a, nil)
	require.NoError(err)
	require.True(follower.SameSoftware)
	require.NotNil(follower.FederatedServerID)

	// materializing the actor records its server's software
	server, err := models.NewFederatedServers(db).FindByDomain("shire.example")
	require.NoError(err)
	require.Equal(models.SoftwareName, server.Software)

	follow(t, db, follower, local)

	inboxes, err := svc.RecipientsFor(local, PrivacyPublic, nil, models.SoftwareName)
	require.NoError(err)
	require.Equal([]string{follower.InboxURL}, inboxes)
}

func TestInboxBoundsSignerKeyFetch(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)

	old := keyFetchTimeout
	keyFetchTimeout = 50 * time.Millisecond
	t.Cleanup(func() { keyFetchTimeout = old })

	// an unknown signer on a server that never answers; the gateway
	// gives up on its own clock rather than hanging the request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)
	_, privateKey, err := crypto.ParseRSAPrivateKey(kp.PrivateKey)
	require.NoError(err)

	actor := ts.URL + "/user/frodo"
	body := []byte(fmt.Sprintf(`{"type":"Create","id":"%s/status/1#Create","actor":"%s","object":{"type":"Note","id":"%s/status/1"}}`, actor, actor, actor))
	_, err = postInbox(t, svc, body, func(r *http.Request) {
		require.NoError(httpsig.Sign(r, actor+"#main-key", privateKey, body))
	})
	require.Equal(http.StatusUnauthorized, statusCode(t, err))
}

func TestFetchBytesCapsResponseSize(t *testing.T) {
	require := require.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, maxFetchBytes+1))
	}))
	t.Cleanup(ts.Close)

	c := &Client{userAgent: "test"}
	_, err := c.FetchBytes(context.Background(), ts.URL)
	cerr := new(ConnectorError)
	require.ErrorAs(err, &cerr)
}
