package activitypub

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func payload(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func createStatus(t *testing.T, db *gorm.DB, author *models.User, content string) *models.Status {
	t.Helper()
	id := snowflake.Now()
	status := &models.Status{
		ID:       id,
		RemoteID: fmt.Sprintf("%s/status/%d", author.RemoteID, id),
		UserID:   author.ID,
		Kind:     string(Note),
		Content:  content,
		Privacy:  PrivacyPublic,
	}
	require.NoError(t, db.Create(status).Error)
	return status
}

func TestProcessInboundCreateIsIdempotent(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	author, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	body := payload(t, map[string]any{
		"type":  "Create",
		"id":    author.RemoteID + "/status/1#Create",
		"actor": author.RemoteID,
		"object": map[string]any{
			"type":         "Note",
			"id":           author.RemoteID + "/status/1",
			"attributedTo": author.RemoteID,
			"published":    "2026-08-01T10:00:00Z",
			"content":      "<p>hello</p>",
		},
	})

	ctx := context.Background()
	require.NoError(svc.ProcessInbound(ctx, body))

	// redelivery of the same Create updates in place, it does not
	// duplicate
	require.NoError(svc.ProcessInbound(ctx, body))

	var count int64
	require.NoError(db.Model(&models.Status{}).Count(&count).Error)
	require.EqualValues(1, count)

	status, err := models.NewStatuses(db).FindByRemoteID(author.RemoteID + "/status/1")
	require.NoError(err)
	require.Equal(author.ID, status.UserID)
	require.Equal("<p>hello</p>", status.Content)
}

func TestProcessInboundFollowAutoAccepts(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	actor, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	target, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)

	body := payload(t, map[string]any{
		"type":   "Follow",
		"id":     actor.RemoteID + "/follow/1",
		"actor":  actor.RemoteID,
		"object": target.RemoteID,
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))

	follow, err := models.NewFollows(db).FindByRemoteID(actor.RemoteID + "/follow/1")
	require.NoError(err)
	require.Equal(models.FollowAccepted, follow.State)

	// the Accept goes back to the follower's personal inbox
	var deliveries []*models.Delivery
	require.NoError(db.Find(&deliveries).Error)
	require.Len(deliveries, 1)
	require.Equal(actor.InboxURL, deliveries[0].InboxURL)
	require.Equal(target.ID, deliveries[0].SenderID)
	require.Contains(string(deliveries[0].Payload), `"Accept"`)
}

func TestProcessInboundFollowRespectsGatedAccounts(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	actor, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	target, _ := createUser(t, db, "sam", "https://example.com/user/sam", true, func(u *models.User) {
		u.ManuallyApprovesFollowers = true
	})

	body := payload(t, map[string]any{
		"type":   "Follow",
		"id":     actor.RemoteID + "/follow/1",
		"actor":  actor.RemoteID,
		"object": target.RemoteID,
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))

	follow, err := models.NewFollows(db).FindByRemoteID(actor.RemoteID + "/follow/1")
	require.NoError(err)
	require.Equal(models.FollowPending, follow.State)

	var count int64
	require.NoError(db.Model(&models.Delivery{}).Count(&count).Error)
	require.EqualValues(0, count)
}

func TestProcessInboundRejectsLocalActorEcho(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)

	body := payload(t, map[string]any{
		"type":   "Follow",
		"id":     local.RemoteID + "/follow/1",
		"actor":  local.RemoteID,
		"object": local.RemoteID,
	})
	err := svc.ProcessInbound(context.Background(), body)
	var serr *SerializerError
	require.ErrorAs(err, &serr)
}

func TestProcessInboundDeleteTombstonesStatus(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	author, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	status := createStatus(t, db, author, "<p>doomed</p>")

	body := payload(t, map[string]any{
		"type":   "Delete",
		"id":     status.RemoteID + "#delete",
		"actor":  author.RemoteID,
		"object": status.RemoteID,
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))

	deleted, err := models.NewStatuses(db).FindByRemoteID(status.RemoteID)
	require.NoError(err)
	require.True(deleted.Deleted)
	require.Empty(deleted.Content)

	// a Delete for something we never had is a no-op
	body = payload(t, map[string]any{
		"type":   "Delete",
		"id":     "https://remote.example/unknown#delete",
		"actor":  author.RemoteID,
		"object": "https://remote.example/unknown",
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))
}

func TestProcessInboundUndoFollow(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	actor, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	target, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)

	followID := actor.RemoteID + "/follow/1"
	require.NoError(db.Create(&models.Follow{
		ID:       snowflake.Now(),
		RemoteID: followID,
		UserID:   actor.ID,
		TargetID: target.ID,
		State:    models.FollowAccepted,
	}).Error)

	body := payload(t, map[string]any{
		"type":  "Undo",
		"id":    followID + "#undo",
		"actor": actor.RemoteID,
		"object": map[string]any{
			"type":   "Follow",
			"id":     followID,
			"actor":  actor.RemoteID,
			"object": target.RemoteID,
		},
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))

	_, err := models.NewFollows(db).FindByRemoteID(followID)
	require.ErrorIs(err, gorm.ErrRecordNotFound)
}

func TestProcessInboundLikeIsIdempotent(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	actor, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)
	status := createStatus(t, db, local, "<p>nice</p>")

	body := payload(t, map[string]any{
		"type":   "Like",
		"id":     actor.RemoteID + "/like/1",
		"actor":  actor.RemoteID,
		"object": status.RemoteID,
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))
	require.NoError(svc.ProcessInbound(context.Background(), body))

	var count int64
	require.NoError(db.Model(&models.Like{}).Count(&count).Error)
	require.EqualValues(1, count)
}

func TestProcessInboundAnnounce(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := newTestService(t, db)
	actor, _ := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)
	local, _ := createUser(t, db, "sam", "https://example.com/user/sam", true)
	status := createStatus(t, db, local, "<p>boost me</p>")

	body := payload(t, map[string]any{
		"type":      "Announce",
		"id":        actor.RemoteID + "/boost/1",
		"actor":     actor.RemoteID,
		"object":    status.RemoteID,
		"published": "2026-08-02T09:00:00Z",
	})
	require.NoError(svc.ProcessInbound(context.Background(), body))

	boost, err := models.NewStatuses(db).FindByRemoteID(actor.RemoteID + "/boost/1")
	require.NoError(err)
	require.Equal(actor.ID, boost.UserID)
	require.NotNil(boost.BoostOfID)
	require.Equal(status.ID, *boost.BoostOfID)
}
