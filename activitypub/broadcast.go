package activitypub

import (
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/algorithms"
	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/models"
)

// deliveryTimeout bounds one delivery attempt to one inbox.
const deliveryTimeout = 15 * time.Second

// A DeliveryFailure records one recipient that could not be reached.
// Failures never abort delivery to the remaining recipients.
type DeliveryFailure struct {
	Recipient string
	Err       error
}

// RecipientsFor computes the deduplicated inbox list for a message
// from the given user. Mentioned actors always receive it at their
// personal inbox. Unless the privacy level is direct, followers are
// added too, each at its shared inbox when it has one. A non-empty
// software restricts followers to servers running that
// implementation.
func (s *Service) RecipientsFor(user *models.User, privacy string, mentions []*models.User, software string) ([]string, error) {
	var inboxes []string
	for _, m := range mentions {
		if m.IsRemote() {
			inboxes = append(inboxes, m.InboxURL)
		}
	}
	if privacy != PrivacyDirect {
		followers, err := models.NewUsers(s.db).Followers(user, software)
		if err != nil {
			return nil, err
		}
		inboxes = append(inboxes, algorithms.Map(followers, (*models.User).Inbox)...)
	}
	return algorithms.Uniq(inboxes), nil
}

// Broadcast serializes the activity and queues one delivery per
// recipient. It returns as soon as the rows are written; the delivery
// worker drains them.
//
// Only locally owned mutations broadcast. Remote-originated saves must
// never reach this point, or activities would echo between servers.
func (s *Service) Broadcast(ctx context.Context, sender *models.User, activity *Activity, recipients []string) error {
	if sender.IsRemote() {
		return serializerErrorf("refusing to broadcast for remote user %s", sender.Acct())
	}
	if len(recipients) == 0 {
		return nil
	}
	payload, err := json.Marshal(activity.Serialize())
	if err != nil {
		return err
	}
	deliveries := make([]*models.Delivery, 0, len(recipients))
	for _, inbox := range recipients {
		deliveries = append(deliveries, &models.Delivery{
			SenderID: sender.ID,
			InboxURL: inbox,
			Payload:  payload,
		})
	}
	return s.db.WithContext(ctx).Create(deliveries).Error
}

// DeliverOne posts a queued payload to a single inbox, signed as the
// sender.
func (s *Service) DeliverOne(ctx context.Context, sender *models.User, payload []byte, inbox string) error {
	client, err := s.clientFor(sender)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	return client.Post(ctx, inbox, payload)
}

// DeliverAll posts a payload to every recipient, independently and
// best-effort, returning the failures.
func (s *Service) DeliverAll(ctx context.Context, sender *models.User, payload []byte, recipients []string) []DeliveryFailure {
	var failures []DeliveryFailure
	for _, inbox := range recipients {
		if err := s.DeliverOne(ctx, sender, payload, inbox); err != nil {
			failures = append(failures, DeliveryFailure{Recipient: inbox, Err: err})
		}
	}
	return failures
}

// nested strips the vocabulary marker for embedding one activity
// inside another.
func nested(a *Activity) map[string]any {
	obj := a.Serialize()
	delete(obj, "@context")
	return obj
}

func anyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// wrap builds an activity of the given kind around an object,
// inheriting the object's addressing.
func wrap(kind Kind, actor *models.User, obj *Activity, extra map[string]any) (*Activity, error) {
	fields := map[string]any{
		"id":     obj.ID() + "#" + string(kind),
		"actor":  actor.RemoteID,
		"object": nested(obj),
		"to":     anyList(obj.Strings("to")),
		"cc":     anyList(obj.Strings("cc")),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return Construct(kind, fields)
}

// WrapCreate wraps a freshly published object in a Create carrying an
// embedded object signature, so servers receiving it forwarded can
// still attribute it.
func (s *Service) WrapCreate(actor *models.User, obj *Activity) (*Activity, error) {
	extra := map[string]any{}
	if sig, err := signObject(actor, nested(obj)); err == nil {
		extra["signature"] = sig
	}
	return wrap(Create, actor, obj, extra)
}

// WrapUpdate wraps an updated object in an Update.
func (s *Service) WrapUpdate(actor *models.User, obj *Activity) (*Activity, error) {
	return wrap(Update, actor, obj, nil)
}

// WrapDelete wraps an object's tombstone in a Delete.
func (s *Service) WrapDelete(actor *models.User, obj *Activity) (*Activity, error) {
	return wrap(Delete, actor, obj, map[string]any{
		"to": []any{PublicAudience},
		"cc": []any{actor.FollowersURL},
	})
}

// signObject produces the embedded RsaSignature2017 block over the
// deterministic serialization of the object.
func signObject(actor *models.User, obj map[string]any) (map[string]any, error) {
	if actor.KeyPair == nil || len(actor.KeyPair.PrivateKey) == 0 {
		return nil, serializerErrorf("user %s has no private key", actor.Acct())
	}
	_, privateKey, err := crypto.ParseRSAPrivateKey(actor.KeyPair.PrivateKey)
	if err != nil {
		return nil, err
	}
	created := time.Now().UTC().Format(time.RFC3339)
	payload, err := json.MarshalOptions{Deterministic: true}.Marshal(json.EncodeOptions{}, obj)
	if err != nil {
		return nil, err
	}
	hashed := sha256.Sum256(append(payload, []byte(created)...))
	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey, stdcrypto.SHA256, hashed[:])
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":           string(SignatureKind),
		"creator":        actor.PublicKeyID(),
		"created":        created,
		"signatureValue": base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// BroadcastStatus queues delivery of a just-published status. Reading
// progress and other generated notes only go to servers that
// understand the extended vocabulary.
func (s *Service) BroadcastStatus(ctx context.Context, status *models.Status) error {
	if status.User == nil || status.User.IsRemote() {
		return nil
	}
	obj, err := s.StatusToWire(status)
	if err != nil {
		return err
	}
	create, err := s.WrapCreate(status.User, obj)
	if err != nil {
		return err
	}
	software := ""
	if status.Kind == string(GeneratedNote) || status.Kind == string(Progress) {
		software = s.software
	}
	recipients, err := s.RecipientsFor(status.User, status.Privacy, status.Mentions, software)
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, status.User, create, recipients)
}

// BroadcastStatusUpdate queues delivery of an edit to an existing
// status.
func (s *Service) BroadcastStatusUpdate(ctx context.Context, status *models.Status) error {
	if status.User == nil || status.User.IsRemote() {
		return nil
	}
	obj, err := s.StatusToWire(status)
	if err != nil {
		return err
	}
	update, err := s.WrapUpdate(status.User, obj)
	if err != nil {
		return err
	}
	recipients, err := s.RecipientsFor(status.User, status.Privacy, status.Mentions, "")
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, status.User, update, recipients)
}

// BroadcastStatusDelete queues a Delete carrying the status's
// tombstone.
func (s *Service) BroadcastStatusDelete(ctx context.Context, status *models.Status) error {
	if status.User == nil || status.User.IsRemote() {
		return nil
	}
	tombstone, err := Construct(Tombstone, map[string]any{"id": status.RemoteID})
	if err != nil {
		return err
	}
	del, err := s.WrapDelete(status.User, tombstone)
	if err != nil {
		return err
	}
	recipients, err := s.RecipientsFor(status.User, status.Privacy, status.Mentions, "")
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, status.User, del, recipients)
}

// BroadcastUserUpdate queues an Update of a local user's actor
// document after a profile change.
func (s *Service) BroadcastUserUpdate(ctx context.Context, user *models.User) error {
	if user.IsRemote() {
		return nil
	}
	actor, err := s.UserToWire(user)
	if err != nil {
		return err
	}
	update, err := wrap(Update, user, actor, map[string]any{
		"to": []any{PublicAudience},
		"cc": []any{user.FollowersURL},
	})
	if err != nil {
		return err
	}
	recipients, err := s.RecipientsFor(user, PrivacyPublic, nil, "")
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, user, update, recipients)
}

// BroadcastShelve queues an Add of an edition to a shelf. Shelving is
// extended vocabulary, so only same-software followers receive it.
func (s *Service) BroadcastShelve(ctx context.Context, item *models.ShelfItem) error {
	return s.broadcastShelfChange(ctx, Add, item)
}

// BroadcastUnshelve queues the matching Remove.
func (s *Service) BroadcastUnshelve(ctx context.Context, item *models.ShelfItem) error {
	return s.broadcastShelfChange(ctx, Remove, item)
}

func (s *Service) broadcastShelfChange(ctx context.Context, kind Kind, item *models.ShelfItem) error {
	if item.Shelf == nil || item.Shelf.User == nil || item.Shelf.User.IsRemote() {
		return nil
	}
	if item.Edition == nil {
		return serializerErrorf("shelf item %d has no edition loaded", item.ID)
	}
	user := item.Shelf.User
	activity, err := Construct(kind, map[string]any{
		"id":     item.RemoteID + "#" + string(kind),
		"actor":  user.RemoteID,
		"object": item.Edition.RemoteID,
		"target": item.Shelf.RemoteID,
		"to":     []any{user.FollowersURL},
	})
	if err != nil {
		return err
	}
	recipients, err := s.RecipientsFor(user, item.Shelf.Privacy, nil, s.software)
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, user, activity, recipients)
}

// SendFollow queues a Follow request to a remote user.
func (s *Service) SendFollow(ctx context.Context, follow *models.Follow) error {
	if follow.User == nil || follow.Target == nil || follow.User.IsRemote() {
		return serializerErrorf("follow %d is not a local request with both sides loaded", follow.ID)
	}
	activity, err := Construct(Follow, map[string]any{
		"id":     follow.RemoteID,
		"actor":  follow.User.RemoteID,
		"object": follow.Target.RemoteID,
	})
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, follow.User, activity, []string{follow.Target.InboxURL})
}

// SendAccept answers a remote follow request.
func (s *Service) SendAccept(ctx context.Context, follow *models.Follow) error {
	return s.answerFollow(ctx, Accept, follow)
}

// SendReject declines a remote follow request.
func (s *Service) SendReject(ctx context.Context, follow *models.Follow) error {
	return s.answerFollow(ctx, Reject, follow)
}

func (s *Service) answerFollow(ctx context.Context, kind Kind, follow *models.Follow) error {
	if follow.User == nil || follow.Target == nil || follow.Target.IsRemote() {
		return serializerErrorf("follow %d is not addressed to a local user", follow.ID)
	}
	activity, err := Construct(kind, map[string]any{
		"id":    follow.RemoteID + "#" + string(kind),
		"actor": follow.Target.RemoteID,
		"object": map[string]any{
			"id":     follow.RemoteID,
			"type":   string(Follow),
			"actor":  follow.User.RemoteID,
			"object": follow.Target.RemoteID,
		},
	})
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, follow.Target, activity, []string{follow.User.InboxURL})
}

// SendUndoFollow retracts a local user's follow.
func (s *Service) SendUndoFollow(ctx context.Context, follow *models.Follow) error {
	if follow.User == nil || follow.Target == nil || follow.User.IsRemote() {
		return serializerErrorf("follow %d is not a local request with both sides loaded", follow.ID)
	}
	activity, err := Construct(Undo, map[string]any{
		"id":    follow.RemoteID + "#undo",
		"actor": follow.User.RemoteID,
		"object": map[string]any{
			"id":     follow.RemoteID,
			"type":   string(Follow),
			"actor":  follow.User.RemoteID,
			"object": follow.Target.RemoteID,
		},
	})
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, follow.User, activity, []string{follow.Target.InboxURL})
}

// SendLike tells a status's author it was faved.
func (s *Service) SendLike(ctx context.Context, like *models.Like) error {
	if like.User == nil || like.Status == nil || like.Status.User == nil || like.User.IsRemote() {
		return serializerErrorf("like %d is missing its associations", like.ID)
	}
	activity, err := Construct(Like, map[string]any{
		"id":     like.RemoteID,
		"actor":  like.User.RemoteID,
		"object": like.Status.RemoteID,
	})
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, like.User, activity, []string{like.Status.User.Inbox()})
}

// SendBoost announces another user's status to the booster's
// followers.
func (s *Service) SendBoost(ctx context.Context, boost *models.Status) error {
	if boost.User == nil || boost.BoostOf == nil || boost.User.IsRemote() {
		return serializerErrorf("boost %d is missing its associations", boost.ID)
	}
	activity, err := Construct(Announce, map[string]any{
		"id":        boost.RemoteID,
		"actor":     boost.User.RemoteID,
		"object":    boost.BoostOf.RemoteID,
		"published": boost.PublishedAt.UTC().Format(time.RFC3339),
		"to":        []any{PublicAudience},
		"cc":        []any{boost.User.FollowersURL},
	})
	if err != nil {
		return err
	}
	recipients, err := s.RecipientsFor(boost.User, PrivacyPublic, nil, "")
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, boost.User, activity, recipients)
}
