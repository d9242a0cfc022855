// Package memory coordinates the memory tiers: the session cache, the
// fragment store, the semantic index and the significance classifier.
// The controller is the single entry point conversations go through.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/elderwise/companion/pkg/memory/classify"
	"github.com/elderwise/companion/pkg/memory/model"
	"github.com/elderwise/companion/pkg/memory/semantic"
	"github.com/elderwise/companion/pkg/memory/session"
	"github.com/elderwise/companion/pkg/memory/store"
)

const (
	// firstConversation replaces an empty transcript in the rendered
	// context so the companion can acknowledge a fresh start.
	firstConversation = "This is our first conversation today."

	contextPreamble = "You are a caring AI companion supporting an elderly user. " +
		"You have persistent memory and should respond as if you genuinely remember " +
		"past conversations and care about their wellbeing."

	contextInstructions = `Instructions:
- Respond naturally and empathetically
- Reference relevant past information when appropriate
- Show that you remember and care about their situation
- Be supportive and encouraging
- If health concerns are mentioned, gently suggest consulting healthcare providers
- Keep responses conversational and warm`
)

// ContextBundle is everything assembled for one reply.
type ContextBundle struct {
	Profile            model.UserProfile      `json:"user_profile"`
	RecentInteractions string                 `json:"recent_interactions"`
	RelevantMemories   []model.MemoryMatch    `json:"relevant_memories"`
	RecentFragments    []model.MemoryFragment `json:"recent_fragments"`
	ContextString      string                 `json:"context_string"`
}

// Options configures a Controller; zero values fall back to defaults.
type Options struct {
	// TopK bounds the semantic search; the rendered context keeps the
	// best three.
	TopK int
	// RecentFragments bounds the fragment fetch; the rendered context
	// keeps the newest five.
	RecentFragments int
	Logger          *log.Logger
	Clock           func() time.Time
}

// Controller orchestrates reads and writes across all memory tiers.
type Controller struct {
	session    *session.Cache
	store      store.Store
	index      *semantic.Index
	classifier *classify.Classifier

	topK            int
	recentFragments int
	logger          *log.Logger
	clock           func() time.Time
}

// NewController wires the memory tiers together.
func NewController(cache *session.Cache, st store.Store, index *semantic.Index, classifier *classify.Classifier, opts Options) *Controller {
	if opts.TopK <= 0 {
		opts.TopK = semantic.DefaultTopK
	}
	if opts.RecentFragments <= 0 {
		opts.RecentFragments = 10
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "memory-controller: ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if classifier == nil {
		classifier = classify.NewDefault()
	}
	return &Controller{
		session:         cache,
		store:           st,
		index:           index,
		classifier:      classifier,
		topK:            opts.TopK,
		recentFragments: opts.RecentFragments,
		logger:          opts.Logger,
		clock:           opts.Clock,
	}
}

func (mc *Controller) logf(format string, args ...any) {
	if mc.logger != nil {
		mc.logger.Printf(format, args...)
	}
}

// AssembleContext gathers the profile, recent transcript, semantically
// relevant memories and recent fragments for one incoming message. The
// four reads run concurrently and each degrades independently, so a
// single dead tier never empties the whole bundle.
func (mc *Controller) AssembleContext(ctx context.Context, userID, userMessage string) ContextBundle {
	var (
		wg         sync.WaitGroup
		profile    model.UserProfile
		transcript string
		memories   []model.MemoryMatch
		fragments  []model.MemoryFragment
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		var err error
		profile, err = mc.store.Profile(ctx, userID)
		if err != nil {
			mc.logf("no profile for user %s: %v", userID, err)
			profile = model.SyntheticProfile(userID)
		}
	}()
	go func() {
		defer wg.Done()
		transcript = mc.session.FormatTranscript(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		memories = mc.index.Search(ctx, userID, userMessage, mc.topK)
	}()
	go func() {
		defer wg.Done()
		var err error
		fragments, err = mc.store.ActiveFragments(ctx, userID, mc.recentFragments)
		if err != nil {
			mc.logf("fetch recent fragments for %s: %v", userID, err)
			fragments = nil
		}
	}()
	wg.Wait()

	return ContextBundle{
		Profile:            profile,
		RecentInteractions: transcript,
		RelevantMemories:   memories,
		RecentFragments:    fragments,
		ContextString:      formatContext(profile, transcript, memories, fragments, userMessage),
	}
}

// MinimalContext is the degenerate bundle used when assembly cannot run
// at all, for example when the controller itself is unavailable.
func MinimalContext(userID, userMessage string) ContextBundle {
	return ContextBundle{
		Profile:       model.SyntheticProfile(userID),
		ContextString: fmt.Sprintf("User says: %s", userMessage),
	}
}

func formatContext(profile model.UserProfile, transcript string, memories []model.MemoryMatch, fragments []model.MemoryFragment, userMessage string) string {
	var sb strings.Builder
	sb.WriteString(contextPreamble)
	sb.WriteString("\n\n")

	sb.WriteString("User Profile:\n")
	fmt.Fprintf(&sb, "Name: %s\n", profile.Name)
	fmt.Fprintf(&sb, "Age: %d\n", profile.Age)
	fmt.Fprintf(&sb, "Health Conditions: %s\n", joinOrNone(profile.Conditions))
	fmt.Fprintf(&sb, "Interests: %s\n\n", joinOrNone(profile.Interests))

	sb.WriteString("Recent Conversation History:\n")
	if transcript == "" || transcript == session.NoHistory {
		sb.WriteString(firstConversation)
	} else {
		sb.WriteString(transcript)
	}
	sb.WriteString("\n\n")

	sb.WriteString("Relevant Long-term Memories:")
	if len(memories) > 0 {
		for i, memory := range memories {
			if i == 3 {
				break
			}
			fmt.Fprintf(&sb, "\n- %s (Relevance: %.2f)", memory.Content, memory.Score)
		}
	} else {
		sb.WriteString("\nNo specific relevant memories found.")
	}
	sb.WriteString("\n\n")

	sb.WriteString("Recent Events and Context:")
	if len(fragments) > 0 {
		for i, fragment := range fragments {
			if i == 5 {
				break
			}
			fmt.Fprintf(&sb, "\n- [%s] %s", fragment.Timestamp.Format("2006-01-02 15:04"), fragment.Content)
		}
	} else {
		sb.WriteString("\nNo recent events recorded.")
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Current Message: %q\n\n", userMessage)
	sb.WriteString(contextInstructions)
	return sb.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None recorded"
	}
	return strings.Join(items, ", ")
}

// StoreInteraction records one served exchange. The session append is
// unconditional; significant exchanges additionally become a durable
// fragment and an indexed vector. A failure on the fragment path never
// rolls back the session write.
func (mc *Controller) StoreInteraction(ctx context.Context, userID, userMessage, aiResponse string) error {
	if err := mc.session.Append(ctx, userID, userMessage, aiResponse); err != nil {
		return fmt.Errorf("append session: %w", err)
	}

	if !mc.classifier.IsSignificant(userMessage, aiResponse) {
		return nil
	}

	fragment := model.MemoryFragment{
		UserID:    userID,
		Timestamp: mc.clock().UTC(),
		Type:      mc.classifier.ClassifyType(userMessage),
		Content:   fmt.Sprintf("User: %s\nAI: %s", userMessage, aiResponse),
		Tags:      mc.classifier.ExtractTags(userMessage, aiResponse),
		Retention: model.RetentionActive,
	}

	fragmentID, err := mc.store.StoreFragment(ctx, fragment)
	if err != nil {
		mc.logf("store fragment for %s: %v", userID, err)
		return nil
	}
	fragment.ID = fragmentID

	embeddingID, err := mc.index.IndexFragment(ctx, fragment)
	if err != nil {
		mc.logf("index fragment %s: %v", fragmentID, err)
		return nil
	}
	if err := mc.store.SetFragmentEmbedding(ctx, fragmentID, embeddingID); err != nil {
		mc.logf("link embedding %s to fragment %s: %v", embeddingID, fragmentID, err)
	}
	return nil
}

// LogInteraction writes the audit record for one exchange.
func (mc *Controller) LogInteraction(ctx context.Context, entry model.InteractionLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = mc.clock().UTC()
	}
	if _, err := mc.store.LogInteraction(ctx, entry); err != nil {
		mc.logf("log interaction for %s: %v", entry.UserID, err)
	}
}

// SearchMemories exposes semantic recall for direct API queries.
func (mc *Controller) SearchMemories(ctx context.Context, userID, query string, topK int) []model.MemoryMatch {
	if topK <= 0 {
		topK = mc.topK
	}
	return mc.index.Search(ctx, userID, query, topK)
}

// ClearSession drops the user's short-term history.
func (mc *Controller) ClearSession(ctx context.Context, userID string) error {
	return mc.session.Clear(ctx, userID)
}

// UserStatistics merges store and index counts for one user.
func (mc *Controller) UserStatistics(ctx context.Context, userID string) (model.UserStatistics, model.IndexStatistics) {
	return mc.store.Statistics(ctx, userID), mc.index.Statistics(ctx, userID)
}
