package activitypub

import (
	"errors"
	"time"

	"github.com/shelfpub/shelfpub/internal/algorithms"
	"github.com/shelfpub/shelfpub/internal/isbn"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

func dateValue(t *time.Time) (any, bool) {
	if t == nil {
		return nil, false
	}
	return t.Format("2006-01-02"), true
}

func assignDate(a *Activity, name string) *time.Time {
	if t, ok := a.Time(name); ok {
		return &t
	}
	return nil
}

func coverValue(href, alt string) (any, bool) {
	if href == "" {
		return nil, false
	}
	return map[string]any{"type": string(Image), "url": href, "name": alt}, true
}

func stringsValue(ss []string) (any, bool) {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out, true
}

var authorMappings = []Mapping[models.Author]{
	{
		Wire:  "name",
		Value: func(a *models.Author) (any, bool) { return a.Name, true },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.Name = act.String("name")
			return nil
		},
	},
	{
		Wire:  "bio",
		Value: func(a *models.Author) (any, bool) { return a.Bio, true },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.Bio = act.String("bio")
			return nil
		},
	},
	{
		Wire:  "isni",
		Value: func(a *models.Author) (any, bool) { return a.ISNI, true },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.ISNI = act.String("isni")
			return nil
		},
	},
	{
		Wire:  "viafId",
		Value: func(a *models.Author) (any, bool) { return a.ViafID, true },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.ViafID = act.String("viafId")
			return nil
		},
	},
	{
		Wire:  "wikipediaLink",
		Value: func(a *models.Author) (any, bool) { return a.WikipediaLink, true },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.WikipediaLink = act.String("wikipediaLink")
			return nil
		},
	},
	{
		Wire:  "born",
		Value: func(a *models.Author) (any, bool) { return dateValue(a.Born) },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.Born = assignDate(act, "born")
			return nil
		},
	},
	{
		Wire:  "died",
		Value: func(a *models.Author) (any, bool) { return dateValue(a.Died) },
		Assign: func(rc *resolveCtx, act *Activity, a *models.Author) error {
			a.Died = assignDate(act, "died")
			return nil
		},
	},
}

// AuthorToWire serializes an author.
func (s *Service) AuthorToWire(author *models.Author) (*Activity, error) {
	fields := wireFields(author, authorMappings)
	fields["id"] = author.RemoteID
	return Construct(AuthorKind, fields)
}

func (s *Service) authorToLocal(rc *resolveCtx, a *Activity, existing *models.Author) (*models.Author, error) {
	if a.Kind() != AuthorKind {
		return nil, serializerErrorf("expected an Author, got %s", a.Kind())
	}
	authors := models.NewAuthors(s.db)
	if existing == nil {
		if known, err := authors.FindExisting(a.ID(), ""); err == nil {
			existing = known
		}
	}
	author := existing
	fresh := author == nil
	if fresh {
		author = &models.Author{ID: snowflake.Now(), RemoteID: a.ID()}
	}
	if err := assignAll(rc, a, author, authorMappings); err != nil {
		return nil, err
	}
	return persist(s.db, author, fresh, func() (*models.Author, error) {
		return authors.FindExisting(a.ID(), "")
	})
}

// workMappings is assigned in init. Its editions closure calls
// resolveEdition, whose ToLocal path reads editionMappings, which
// reaches back into this table through resolveWork.
var workMappings []Mapping[models.Work]

func init() {
	workMappings = []Mapping[models.Work]{
		{
			Wire:  "title",
			Value: func(w *models.Work) (any, bool) { return w.Title, true },
			Assign: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				w.Title = a.String("title")
				return nil
			},
		},
		{
			Wire:  "description",
			Value: func(w *models.Work) (any, bool) { return w.Description, true },
			Assign: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				w.Description = a.String("description")
				return nil
			},
		},
		{
			Wire:  "firstPublishedDate",
			Value: func(w *models.Work) (any, bool) { return dateValue(w.FirstPublishedDate) },
			Assign: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				w.FirstPublishedDate = assignDate(a, "firstPublishedDate")
				return nil
			},
		},
		{
			Wire:  "cover",
			Value: func(w *models.Work) (any, bool) { return coverValue(w.CoverURL, w.CoverAlt) },
			Assign: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				if cover := a.Map("cover"); cover != nil {
					if href, ok := cover["url"].(string); ok {
						w.CoverURL = href
					}
					if alt, ok := cover["name"].(string); ok {
						w.CoverAlt = alt
					}
				}
				return nil
			},
			Attach: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				return rc.svc.fetchCover(rc, w.CoverURL, func(data []byte) error {
					return rc.svc.db.Model(w).Update("cover", data).Error
				})
			},
		},
		{
			Wire: "authors",
			Value: func(w *models.Work) (any, bool) {
				return stringsValue(algorithms.Map(w.Authors, (*models.Author).GetRemoteID))
			},
			Attach: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				authors, err := resolveEach(rc, a.Strings("authors"), (*Service).resolveAuthor)
				if err != nil {
					return err
				}
				return rc.svc.db.Model(w).Association("Authors").Replace(authors)
			},
		},
		{
			Wire: "editions",
			Value: func(w *models.Work) (any, bool) {
				return stringsValue(algorithms.Map(w.Editions, (*models.Edition).GetRemoteID))
			},
			Attach: func(rc *resolveCtx, a *Activity, w *models.Work) error {
				// back-reference each edition to this work
				for _, id := range a.Strings("editions") {
					down, err := rc.descend()
					if err != nil {
						return err
					}
					edition, err := rc.svc.resolveEdition(down, id, false)
					if err != nil {
						return err
					}
					if edition.WorkID == nil || *edition.WorkID != w.ID {
						if err := rc.svc.db.Model(edition).Update("work_id", w.ID).Error; err != nil {
							return err
						}
					}
				}
				return nil
			},
		},
	}
}

// WorkToWire serializes a work.
func (s *Service) WorkToWire(work *models.Work) (*Activity, error) {
	fields := wireFields(work, workMappings)
	fields["id"] = work.RemoteID
	return Construct(WorkKind, fields)
}

func (s *Service) workToLocal(rc *resolveCtx, a *Activity, existing *models.Work) (*models.Work, error) {
	if a.Kind() != WorkKind {
		return nil, serializerErrorf("expected a Work, got %s", a.Kind())
	}
	works := models.NewWorks(s.db)
	if existing == nil {
		if known, err := works.FindExisting(a.ID(), ""); err == nil {
			existing = known
		}
	}
	work := existing
	fresh := work == nil
	if fresh {
		work = &models.Work{ID: snowflake.Now(), RemoteID: a.ID()}
	}
	if err := assignAll(rc, a, work, workMappings); err != nil {
		return nil, err
	}
	work, err := persist(s.db, work, fresh, func() (*models.Work, error) {
		return works.FindExisting(a.ID(), "")
	})
	if err != nil {
		return nil, err
	}
	return work, attachAll(rc, a, work, workMappings)
}

// editionMappings is assigned in init, see workMappings.
var editionMappings []Mapping[models.Edition]

func init() {
	editionMappings = []Mapping[models.Edition]{
		{
			Wire:  "title",
			Value: func(e *models.Edition) (any, bool) { return e.Title, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.Title = a.String("title")
				return nil
			},
		},
		{
			Wire:  "subtitle",
			Value: func(e *models.Edition) (any, bool) { return e.Subtitle, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.Subtitle = a.String("subtitle")
				return nil
			},
		},
		{
			Wire:  "description",
			Value: func(e *models.Edition) (any, bool) { return e.Description, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.Description = a.String("description")
				return nil
			},
		},
		{
			Wire:  "isbn10",
			Value: func(e *models.Edition) (any, bool) { return e.ISBN10, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.ISBN10 = isbn.Normalize(a.String("isbn10"))
				return nil
			},
		},
		{
			Wire:  "isbn13",
			Value: func(e *models.Edition) (any, bool) { return e.ISBN13, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.ISBN13 = isbn.Normalize(a.String("isbn13"))
				// derive the missing form when only one is supplied
				if e.ISBN13 == "" && e.ISBN10 != "" {
					e.ISBN13, _ = isbn.ToISBN13(e.ISBN10)
				}
				if e.ISBN10 == "" && e.ISBN13 != "" {
					e.ISBN10, _ = isbn.ToISBN10(e.ISBN13)
				}
				return nil
			},
		},
		{
			Wire:  "oclcNumber",
			Value: func(e *models.Edition) (any, bool) { return e.OclcNumber, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.OclcNumber = a.String("oclcNumber")
				return nil
			},
		},
		{
			Wire:  "asin",
			Value: func(e *models.Edition) (any, bool) { return e.ASIN, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.ASIN = a.String("asin")
				return nil
			},
		},
		{
			Wire: "numPages",
			Value: func(e *models.Edition) (any, bool) {
				if e.Pages == nil {
					return nil, false
				}
				return float64(*e.Pages), true
			},
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				if pages, ok := a.Float("numPages"); ok {
					n := int32(pages)
					e.Pages = &n
				}
				return nil
			},
		},
		{
			Wire:  "physicalFormat",
			Value: func(e *models.Edition) (any, bool) { return e.PhysicalFormat, true },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.PhysicalFormat = a.String("physicalFormat")
				return nil
			},
		},
		{
			Wire:  "publishers",
			Value: func(e *models.Edition) (any, bool) { return stringsValue(e.Publishers) },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.Publishers = a.Strings("publishers")
				return nil
			},
		},
		{
			Wire:  "languages",
			Value: func(e *models.Edition) (any, bool) { return stringsValue(e.Languages) },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.Languages = a.Strings("languages")
				return nil
			},
		},
		{
			Wire:  "publishedDate",
			Value: func(e *models.Edition) (any, bool) { return dateValue(e.PublishedDate) },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				e.PublishedDate = assignDate(a, "publishedDate")
				return nil
			},
		},
		{
			Wire: "work",
			Value: func(e *models.Edition) (any, bool) {
				if e.Work == nil {
					return nil, false
				}
				return e.Work.RemoteID, true
			},
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				id := a.String("work")
				if id == "" {
					return nil
				}
				down, err := rc.descend()
				if err != nil {
					return err
				}
				work, err := rc.svc.resolveWork(down, id, false)
				if err != nil {
					return err
				}
				e.WorkID = &work.ID
				return nil
			},
		},
		{
			Wire:  "cover",
			Value: func(e *models.Edition) (any, bool) { return coverValue(e.CoverURL, e.CoverAlt) },
			Assign: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				if cover := a.Map("cover"); cover != nil {
					if href, ok := cover["url"].(string); ok {
						e.CoverURL = href
					}
					if alt, ok := cover["name"].(string); ok {
						e.CoverAlt = alt
					}
				}
				return nil
			},
			Attach: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				return rc.svc.fetchCover(rc, e.CoverURL, func(data []byte) error {
					return rc.svc.db.Model(e).Update("cover", data).Error
				})
			},
		},
		{
			Wire: "authors",
			Value: func(e *models.Edition) (any, bool) {
				return stringsValue(algorithms.Map(e.Authors, (*models.Author).GetRemoteID))
			},
			Attach: func(rc *resolveCtx, a *Activity, e *models.Edition) error {
				authors, err := resolveEach(rc, a.Strings("authors"), (*Service).resolveAuthor)
				if err != nil {
					return err
				}
				return rc.svc.db.Model(e).Association("Authors").Replace(authors)
			},
		},
	}
}

// EditionToWire serializes an edition. The Work association must be
// loaded for the work reference to appear.
func (s *Service) EditionToWire(edition *models.Edition) (*Activity, error) {
	fields := wireFields(edition, editionMappings)
	fields["id"] = edition.RemoteID
	return Construct(EditionKind, fields)
}

func (s *Service) editionToLocal(rc *resolveCtx, a *Activity, existing *models.Edition) (*models.Edition, error) {
	if a.Kind() != EditionKind {
		return nil, serializerErrorf("expected an Edition, got %s", a.Kind())
	}
	editions := models.NewEditions(s.db)
	keys := models.EditionKeys{
		RemoteID:   a.ID(),
		ISBN10:     isbn.Normalize(a.String("isbn10")),
		ISBN13:     isbn.Normalize(a.String("isbn13")),
		OclcNumber: a.String("oclcNumber"),
		ASIN:       a.String("asin"),
	}
	if existing == nil {
		if known, err := editions.FindExisting(keys); err == nil {
			existing = known
		}
	}
	edition := existing
	fresh := edition == nil
	if fresh {
		edition = &models.Edition{ID: snowflake.Now(), RemoteID: a.ID()}
	}
	if err := assignAll(rc, a, edition, editionMappings); err != nil {
		return nil, err
	}
	edition, err := persist(s.db, edition, fresh, func() (*models.Edition, error) {
		return editions.FindExisting(keys)
	})
	if err != nil {
		return nil, err
	}
	return edition, attachAll(rc, a, edition, editionMappings)
}

// persist creates or saves an entity, recovering from a lost creation
// race by re-running the dedup lookup and adopting the winner's row.
func persist[E any](db *gorm.DB, entity *E, fresh bool, refind func() (*E, error)) (*E, error) {
	if !fresh {
		return entity, db.Save(entity).Error
	}
	if err := db.Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return refind()
		}
		return nil, err
	}
	return entity, nil
}

// resolveEach resolves a list of identifiers one level deeper.
func resolveEach[E any](rc *resolveCtx, ids []string, resolve func(*Service, *resolveCtx, string, bool) (*E, error)) ([]*E, error) {
	out := make([]*E, 0, len(ids))
	for _, id := range ids {
		down, err := rc.descend()
		if err != nil {
			return nil, err
		}
		e, err := resolve(rc.svc, down, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// fetchCover downloads cover bytes best-effort; an unreachable cover
// leaves only the URL behind.
func (s *Service) fetchCover(rc *resolveCtx, href string, store func([]byte) error) error {
	if href == "" {
		return nil
	}
	client, err := s.instanceClient()
	if err != nil {
		return nil
	}
	data, err := client.FetchBytes(rc, href)
	if err != nil {
		return nil
	}
	return store(data)
}
