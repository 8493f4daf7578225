package workers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shelfpub/shelfpub/activitypub"
	"github.com/shelfpub/shelfpub/internal/crypto"
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

func createUser(t *testing.T, db *gorm.DB, name, remoteID string, local bool) *models.User {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	id := snowflake.Now()
	user := &models.User{
		ID:       id,
		RemoteID: remoteID,
		Username: name,
		Domain:   "example.com",
		Local:    local,
		InboxURL: remoteID + "/inbox",
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
	return user
}

func TestProcessDeletesOnSuccessKeepsOnFailure(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)

	good := &models.InboundActivity{Payload: []byte("good")}
	bad := &models.InboundActivity{Payload: []byte("bad")}
	require.NoError(db.Create(good).Error)
	require.NoError(db.Create(bad).Error)

	fn := func(tx *gorm.DB, activity *models.InboundActivity) error {
		if string(activity.Payload) == "bad" {
			return errors.New("boom")
		}
		return nil
	}
	require.NoError(process(db, inboundScope, fn))

	var remaining []*models.InboundActivity
	require.NoError(db.Find(&remaining).Error)
	require.Len(remaining, 1)
	require.Equal(bad.ID, remaining[0].ID)
	require.EqualValues(1, remaining[0].Attempts)
	require.Equal("boom", remaining[0].LastResult)
}

func TestInboundScopeSkipsExhaustedRows(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)

	spent := &models.InboundActivity{Payload: []byte("spent")}
	require.NoError(db.Create(spent).Error)
	require.NoError(db.Model(spent).UpdateColumn("attempts", 3).Error)

	calls := 0
	fn := func(tx *gorm.DB, activity *models.InboundActivity) error {
		calls++
		return nil
	}
	require.NoError(process(db, inboundScope, fn))
	require.Equal(0, calls)
}

func TestApplyOneDropsContractViolations(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := activitypub.NewService(db, "example.com")
	author := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	// a Note missing its mandatory published field; retrying cannot fix it
	malformed := &models.InboundActivity{
		Payload: []byte(fmt.Sprintf(`{"type":"Create","id":"%s/status/1#Create","actor":"%s","object":{"type":"Note","id":"%s/status/1","attributedTo":"%s"}}`,
			author.RemoteID, author.RemoteID, author.RemoteID, author.RemoteID)),
	}
	require.NoError(db.Create(malformed).Error)

	require.NoError(process(db, inboundScope, applyOne(svc)))

	var count int64
	require.NoError(db.Model(&models.InboundActivity{}).Count(&count).Error)
	require.EqualValues(0, count)
}

func TestApplyOneMaterializesStatuses(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	svc := activitypub.NewService(db, "example.com")
	author := createUser(t, db, "frodo", "https://remote.example/user/frodo", false)

	queued := &models.InboundActivity{
		Payload: []byte(fmt.Sprintf(`{"type":"Create","id":"%s/status/1#Create","actor":"%s","object":{"type":"Note","id":"%s/status/1","attributedTo":"%s","published":"2026-08-01T10:00:00Z","content":"<p>hi</p>"}}`,
			author.RemoteID, author.RemoteID, author.RemoteID, author.RemoteID)),
	}
	require.NoError(db.Create(queued).Error)

	require.NoError(process(db, inboundScope, applyOne(svc)))

	status, err := models.NewStatuses(db).FindByRemoteID(author.RemoteID + "/status/1")
	require.NoError(err)
	require.Equal(author.ID, status.UserID)

	var count int64
	require.NoError(db.Model(&models.InboundActivity{}).Count(&count).Error)
	require.EqualValues(0, count)
}
