// Package upload implements the new-item workflow: validate the form, store
// the picture, then append the item record that references it.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erazemk/bazaar/internal/imaging"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/tree"
)

// Phase is a workflow state.
type Phase int

// Workflow phases.
const (
	Idle Phase = iota
	Validating
	StoringBlob
	WritingRecord
	Done
	Error
)

var phaseNames = [...]string{"idle", "validating", "storing_blob", "writing_record", "done", "error"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Validation errors. Their text is shown to the user as is.
var (
	ErrNoImage          = errors.New("Please select an image.")
	ErrNotAuthenticated = errors.New("User not authenticated.")
	ErrNoName           = errors.New("Please enter a name.")
	ErrNoType           = errors.New("Please enter a type.")
	ErrBadCondition     = errors.New("Please select a condition.")
	ErrBadImage         = errors.New("The selected file is not a supported image.")
)

// Failure is a backend rejection. Its message carries the backend's own
// text after a prefix naming the step that failed.
type Failure struct {
	// Step is "uploading file", "getting download URL" or "adding item".
	Step string
	Err  error
}

func (f *Failure) Error() string {
	return "Error " + f.Step + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// BlobStore is where pictures go.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (store.BlobRef, error)
	DownloadURL(ctx context.Context, ref store.BlobRef) (string, error)
}

// Image is a selected picture file.
type Image struct {
	Filename string
	Data     []byte
}

// Form is the new-item form.
type Form struct {
	Name      string
	Condition model.Condition
	Type      string
	Image     *Image
}

// Outcome describes a successful submission.
type Outcome struct {
	ItemID string
	Pic    string
	// Form is the cleared form to show next.
	Form Form
}

// Transition is one observed phase change. Err is set when entering Error,
// or when validation returns to Idle.
type Transition struct {
	From, To Phase
	Err      error
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithObserver registers fn to be called on every transition.
func WithObserver(fn func(Transition)) Option {
	return func(w *Workflow) { w.observers = append(w.observers, fn) }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithImageOptions sets how pictures are processed before storage.
func WithImageOptions(opts imaging.Options) Option {
	return func(w *Workflow) { w.imageOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(w *Workflow) { w.log = log }
}

// Workflow runs submissions for one session. Submissions are independent;
// concurrent ones are neither serialized nor deduplicated. Observers see
// every submission's transitions, while Phase reports only the most recently
// started one. Handlers build one Workflow per request.
type Workflow struct {
	items     tree.Store
	blobs     BlobStore
	session   *session.Session
	now       func() time.Time
	imageOpts imaging.Options
	log       *logger.Logger
	observers []func(Transition)

	mu     sync.Mutex
	phase  Phase
	latest uint64
}

// New returns an idle workflow.
func New(items tree.Store, blobs BlobStore, sess *session.Session, opts ...Option) *Workflow {
	w := &Workflow{
		items:   items,
		blobs:   blobs,
		session: sess,
		now:     time.Now,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Phase returns the phase of the most recently started submission.
func (w *Workflow) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// submission is one run of Submit.
type submission struct {
	w     *Workflow
	seq   uint64
	phase Phase
}

func (w *Workflow) begin() *submission {
	w.mu.Lock()
	w.latest++
	sub := &submission{w: w, seq: w.latest, phase: w.phase}
	w.mu.Unlock()
	return sub
}

func (s *submission) enter(to Phase, err error) {
	from := s.phase
	s.phase = to

	s.w.mu.Lock()
	if s.seq == s.w.latest {
		s.w.phase = to
	}
	s.w.mu.Unlock()

	for _, fn := range s.w.observers {
		fn(Transition{From: from, To: to, Err: err})
	}
}

func (s *submission) fail(err error) error {
	s.w.log.Warn().Err(err).Msg("upload failed")
	s.enter(Error, err)
	return err
}

// validate checks the form without any store call.
func (w *Workflow) validate(form Form) (*model.Identity, error) {
	if form.Image == nil || len(form.Image.Data) == 0 {
		return nil, ErrNoImage
	}
	var id *model.Identity
	if w.session != nil {
		id = w.session.Identity()
	}
	if id == nil {
		return nil, ErrNotAuthenticated
	}
	switch {
	case strings.TrimSpace(form.Name) == "":
		return nil, ErrNoName
	case !form.Condition.Valid():
		return nil, ErrBadCondition
	case strings.TrimSpace(form.Type) == "":
		return nil, ErrNoType
	}
	return id, nil
}

// Submit runs one submission. Validation failures return the workflow to
// Idle without touching any store. Backend failures leave it in Error with
// a *Failure; a picture stored before a failed record write stays in place.
func (w *Workflow) Submit(ctx context.Context, form Form) (Outcome, error) {
	sub := w.begin()
	sub.enter(Validating, nil)

	id, err := w.validate(form)
	if err != nil {
		sub.enter(Idle, err)
		return Outcome{}, err
	}
	processed, err := imaging.Process(bytes.NewReader(form.Image.Data), w.imageOpts)
	if err != nil {
		w.log.Debug().Err(err).Msg("rejected picture")
		sub.enter(Idle, ErrBadImage)
		return Outcome{}, ErrBadImage
	}

	sub.enter(StoringBlob, nil)
	pic, err := storePicture(ctx, w.blobs, id.UID, form.Image.Filename, processed)
	if err != nil {
		return Outcome{}, sub.fail(err)
	}

	sub.enter(WritingRecord, nil)
	parent, err := tree.Join(tree.Items, id.UID)
	if err != nil {
		return Outcome{}, sub.fail(&Failure{Step: "adding item", Err: err})
	}
	itemID, err := w.items.Push(ctx, parent, model.Item{
		Name:      strings.TrimSpace(form.Name),
		Condition: form.Condition,
		Type:      strings.TrimSpace(form.Type),
		Pic:       pic,
		UserID:    id.UID,
		Email:     id.Email,
		Timestamp: model.Timestamp(w.now()),
	})
	if err != nil {
		return Outcome{}, sub.fail(&Failure{Step: "adding item", Err: err})
	}

	sub.enter(Done, nil)
	sub.enter(Idle, nil)
	w.log.Info().Str("uid", id.UID).Str("item", itemID).Msg("item uploaded")
	return Outcome{ItemID: itemID, Pic: pic}, nil
}

// StorePicture processes img and stores it under itemPics/{uid}/{filename},
// returning its download address. Undecodable pictures yield ErrBadImage.
func StorePicture(ctx context.Context, blobs BlobStore, uid string, img Image, opts imaging.Options) (string, error) {
	processed, err := imaging.Process(bytes.NewReader(img.Data), opts)
	if err != nil {
		return "", ErrBadImage
	}
	return storePicture(ctx, blobs, uid, img.Filename, processed)
}

func storePicture(ctx context.Context, blobs BlobStore, uid, filename string, img *imaging.Result) (string, error) {
	path, err := tree.Join(tree.ItemPics, uid, imaging.BaseName(filename))
	if err != nil {
		return "", &Failure{Step: "uploading file", Err: err}
	}
	ref, err := blobs.Put(ctx, path, img.Data, img.MIME)
	if err != nil {
		return "", &Failure{Step: "uploading file", Err: err}
	}
	url, err := blobs.DownloadURL(ctx, ref)
	if err != nil {
		return "", &Failure{Step: "getting download URL", Err: err}
	}
	return url, nil
}
