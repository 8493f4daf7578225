package activitypub

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

// ProcessInbound applies one verified, queued activity to local state.
// Contract mismatches come back as SerializerError or ValidationError;
// the worker logs and drops those rather than retrying.
func (s *Service) ProcessInbound(ctx context.Context, payload []byte) error {
	var raw map[string]any
	if err := json.UnmarshalFull(bytes.NewReader(payload), &raw); err != nil {
		return err
	}
	a, err := Parse(raw)
	if err != nil {
		return err
	}
	rc := s.newResolveCtx(ctx)
	switch a.Kind() {
	case Create, Update:
		return s.applyUpsert(rc, a)
	case Delete:
		return s.applyDelete(rc, a)
	case Follow:
		return s.applyFollow(rc, a)
	case Accept:
		return s.applyFollowAnswer(rc, a, true)
	case Reject:
		return s.applyFollowAnswer(rc, a, false)
	case Undo:
		return s.applyUndo(rc, a)
	case Add:
		return s.applyShelfChange(rc, a, true)
	case Remove:
		return s.applyShelfChange(rc, a, false)
	case Like:
		return s.applyLike(rc, a)
	case Announce:
		return s.applyAnnounce(rc, a)
	default:
		// bare objects arriving without an activity wrapper are ignored
		return nil
	}
}

// actorFor resolves the activity's actor and rejects echoes of our own
// activities.
func (s *Service) actorFor(rc *resolveCtx, a *Activity) (*models.User, error) {
	actor, err := s.resolveUser(rc, a.String("actor"), false)
	if err != nil {
		return nil, err
	}
	if actor.IsLocal() {
		return nil, serializerErrorf("activity %s claims a local actor", a.ID())
	}
	return actor, nil
}

// applyUpsert materializes the inner object of a Create or Update.
// ToLocal's dedup-first lookup makes a repeated Create a harmless
// update of the same row.
func (s *Service) applyUpsert(rc *resolveCtx, a *Activity) error {
	id, obj, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	if obj == nil {
		obj, err = s.fetchActivity(rc, id)
		if err != nil {
			return err
		}
	}
	switch kind := obj.Kind(); {
	case noteKinds[kind]:
		_, err = s.statusToLocal(rc, obj, nil)
	case kind.IsActor():
		_, err = s.personToLocal(rc, obj, nil)
	case kind == EditionKind:
		_, err = s.editionToLocal(rc, obj, nil)
	case kind == WorkKind:
		_, err = s.workToLocal(rc, obj, nil)
	case kind == AuthorKind:
		_, err = s.authorToLocal(rc, obj, nil)
	default:
		return serializerErrorf("no local representation for %s objects", kind)
	}
	return err
}

// applyDelete tombstones the referenced status, or marks the
// referenced user deleted. Deletes for things we never had are
// no-ops.
func (s *Service) applyDelete(rc *resolveCtx, a *Activity) error {
	id, obj, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	if obj != nil {
		id = obj.ID()
	}
	if status, err := models.NewStatuses(s.db).FindByRemoteID(id); err == nil {
		return s.db.Model(status).Updates(map[string]any{
			"deleted": true,
			"content": "",
		}).Error
	}
	if user, err := models.NewUsers(s.db).FindByRemoteID(id); err == nil && user.IsRemote() {
		return s.db.Model(user).Update("deleted", true).Error
	}
	return nil
}

// applyFollow records a pending follow of a local user and, for
// accounts that do not gate their followers, answers with an Accept
// immediately.
func (s *Service) applyFollow(rc *resolveCtx, a *Activity) error {
	actor, err := s.actorFor(rc, a)
	if err != nil {
		return err
	}
	targetID, _, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	target, err := models.NewUsers(s.db).FindByRemoteID(targetID)
	if err != nil || target.IsRemote() {
		return serializerErrorf("follow %s addresses no local user", a.ID())
	}
	follows := models.NewFollows(s.db)
	follow, err := follows.Find(actor, target)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		follow = &models.Follow{
			ID:       snowflake.Now(),
			RemoteID: a.ID(),
			UserID:   actor.ID,
			TargetID: target.ID,
			State:    models.FollowPending,
		}
		if err := s.db.Create(follow).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if target.ManuallyApprovesFollowers {
		return nil
	}
	if err := follows.Accept(follow); err != nil {
		return err
	}
	follow.User, follow.Target = actor, target
	return s.SendAccept(rc, follow)
}

// applyFollowAnswer resolves our outstanding follow request when the
// remote side accepts or rejects it.
func (s *Service) applyFollowAnswer(rc *resolveCtx, a *Activity, accepted bool) error {
	obj, err := a.Object("object")
	if err != nil {
		return err
	}
	if obj == nil || obj.Kind() != Follow {
		return serializerErrorf("%s %s does not answer a Follow", a.Kind(), a.ID())
	}
	follow, err := models.NewFollows(s.db).FindByRemoteID(obj.ID())
	if err != nil {
		return serializerErrorf("%s answers unknown follow %s", a.Kind(), obj.ID())
	}
	if accepted {
		return models.NewFollows(s.db).Accept(follow)
	}
	return models.NewFollows(s.db).Remove(follow)
}

// applyUndo retracts a previous Follow, Like or Announce.
func (s *Service) applyUndo(rc *resolveCtx, a *Activity) error {
	obj, err := a.Object("object")
	if err != nil || obj == nil {
		return serializerErrorf("undo %s carries no embedded object", a.ID())
	}
	switch obj.Kind() {
	case Follow:
		follow, err := models.NewFollows(s.db).FindByRemoteID(obj.ID())
		if err != nil {
			return nil
		}
		return models.NewFollows(s.db).Remove(follow)
	case Like:
		like, err := models.NewLikes(s.db).FindByRemoteID(obj.ID())
		if err != nil {
			return nil
		}
		return s.db.Delete(like).Error
	case Announce:
		boost, err := models.NewStatuses(s.db).FindByRemoteID(obj.ID())
		if err != nil {
			return nil
		}
		return s.db.Model(boost).Update("deleted", true).Error
	}
	return serializerErrorf("cannot undo a %s", obj.Kind())
}

// applyShelfChange adds or removes an edition on a remote user's
// shelf.
func (s *Service) applyShelfChange(rc *resolveCtx, a *Activity, add bool) error {
	actor, err := s.actorFor(rc, a)
	if err != nil {
		return err
	}
	down, err := rc.descend()
	if err != nil {
		return err
	}
	shelf, err := s.resolveShelf(down, a.String("target"))
	if err != nil {
		return err
	}
	if shelf.UserID != actor.ID {
		return serializerErrorf("%s %s targets a shelf the actor does not own", a.Kind(), a.ID())
	}
	editionID, obj, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	var edition *models.Edition
	if obj != nil {
		edition, err = s.editionToLocal(down, obj, nil)
	} else {
		edition, err = s.resolveEdition(down, editionID, false)
	}
	if err != nil {
		return err
	}
	if !add {
		return s.db.Where("shelf_id = ? AND edition_id = ?", shelf.ID, edition.ID).
			Delete(&models.ShelfItem{}).Error
	}
	item := &models.ShelfItem{
		ID:        snowflake.Now(),
		RemoteID:  a.ID(),
		ShelfID:   shelf.ID,
		EditionID: edition.ID,
	}
	err = s.db.Create(item).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// applyLike records a remote fave of a local status.
func (s *Service) applyLike(rc *resolveCtx, a *Activity) error {
	actor, err := s.actorFor(rc, a)
	if err != nil {
		return err
	}
	statusID, _, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	status, err := models.NewStatuses(s.db).FindByRemoteID(statusID)
	if err != nil {
		return serializerErrorf("like %s references unknown status %s", a.ID(), statusID)
	}
	like := &models.Like{
		ID:       snowflake.Now(),
		RemoteID: a.ID(),
		UserID:   actor.ID,
		StatusID: status.ID,
	}
	err = s.db.Create(like).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// applyAnnounce records a remote boost, materializing the boosted
// status first if we have never seen it.
func (s *Service) applyAnnounce(rc *resolveCtx, a *Activity) error {
	actor, err := s.actorFor(rc, a)
	if err != nil {
		return err
	}
	statusID, _, err := a.ObjectOrID("object")
	if err != nil {
		return err
	}
	down, err := rc.descend()
	if err != nil {
		return err
	}
	boosted, err := s.resolveStatus(down, statusID, false)
	if err != nil {
		return err
	}
	published := time.Now().UTC()
	if t, ok := a.Time("published"); ok {
		published = t
	}
	boost := &models.Status{
		ID:          snowflake.Now(),
		RemoteID:    a.ID(),
		UserID:      actor.ID,
		Kind:        string(Note),
		Privacy:     PrivacyPublic,
		PublishedAt: published,
		BoostOfID:   &boosted.ID,
	}
	err = s.db.Create(boost).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}
