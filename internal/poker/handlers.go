package poker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/go-poker/internal/types"
)

const (
	maxUsernameLength    = 80
	maxTitleLength       = 256
	maxDescriptionLength = 4000
	maxCards             = 40
)

type handlerFunc func(p *Processor, tx *txn) error

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		CmdJoin:          handleJoin,
		CmdLeave:         handleLeave,
		CmdKick:          handleKick,
		CmdSetUsername:   handleSetUsername,
		CmdSetVisitor:    handleSetVisitor,
		CmdAddStory:      handleAddStory,
		CmdChangeStory:   handleChangeStory,
		CmdTrashStory:    handleTrashStory,
		CmdRestoreStory:  handleRestoreStory,
		CmdSelectStory:   handleSelectStory,
		CmdEstimate:      handleEstimate,
		CmdClearEstimate: handleClearEstimate,
		CmdReveal:        handleReveal,
		CmdNewRound:      handleNewRound,
		CmdSettle:        handleSettle,
		CmdSetAutoReveal: handleSetAutoReveal,
		CmdSetCardConfig: handleSetCardConfig,
		CmdSetPassword:   handleSetPassword,
		CmdDisconnect:    handleDisconnect,
	}
}

func handleJoin(p *Processor, tx *txn) error {
	var pl JoinPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	username, err := cleanUsername(pl.Username, true)
	if err != nil {
		return err
	}

	room := tx.room
	switch {
	case tx.created && pl.Password != "":
		hash, err := p.hashPassword(pl.Password)
		if err != nil {
			return fmt.Errorf("hash room password: %w", err)
		}
		room.Password = hash
	case room.Password != "":
		if !p.mayEnter(tx, pl) {
			return forbidden("room %q requires a password", room.Id)
		}
	}

	user := tx.user
	if user == nil {
		user = &types.User{
			Id:       tx.cmd.UserId,
			Username: username,
			Visitor:  pl.Visitor != nil && *pl.Visitor,
		}
		room.Users[user.Id] = user
		tx.user = user
	} else {
		user.Disconnected = false
		if username != "" {
			user.Username = username
		}
		// a rejoin without a role keeps the current one
		if pl.Visitor != nil && *pl.Visitor != user.Visitor {
			setVisitor(room, user, *pl.Visitor)
			tx.emit("visitorSet")
		}
	}

	if room.Password != "" {
		token, err := p.tokens.Issue(user.Id, room.Id)
		if err != nil {
			return fmt.Errorf("issue room token: %w", err)
		}
		tx.result.Token = token
	}

	tx.emit("joined")
	return nil
}

// mayEnter checks the credentials of a join to a password protected room.
// A valid room token of the same user saves reconnecting clients from
// asking for the password again.
func (p *Processor) mayEnter(tx *txn, pl JoinPayload) bool {
	if pl.Token != "" {
		if sub, err := p.tokens.Validate(pl.Token, tx.room.Id); err == nil && sub == tx.cmd.UserId {
			return true
		}
	}
	return pl.Password != "" && verifyPassword(tx.room.Password, pl.Password)
}

func handleLeave(p *Processor, tx *txn) error {
	removeUser(tx.room, tx.user.Id)
	tx.result.Removed = append(tx.result.Removed, tx.user.Id)
	tx.emit("left")
	return nil
}

func handleKick(p *Processor, tx *txn) error {
	var pl KickPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	if pl.UserId == "" {
		return validation("user id is required")
	}
	if pl.UserId == tx.user.Id {
		return validation("use leave to remove yourself")
	}

	target, ok := tx.room.Users[pl.UserId]
	if !ok {
		return notFound("user %q not found in room %q", pl.UserId, tx.room.Id)
	}
	if !target.Disconnected {
		return invalidState("user %q is still connected", pl.UserId)
	}

	removeUser(tx.room, pl.UserId)
	tx.result.Removed = append(tx.result.Removed, pl.UserId)
	tx.emit("kicked")
	return nil
}

// removeUser drops the user and any estimation that is still hidden.
// Revealed estimations stay for the export.
func removeUser(room *types.Room, userId string) {
	delete(room.Users, userId)
	for _, s := range room.Stories {
		if !s.Revealed {
			s.ClearEstimation(userId)
		}
	}
}

func handleSetUsername(p *Processor, tx *txn) error {
	var pl SetUsernamePayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	username, err := cleanUsername(pl.Username, false)
	if err != nil {
		return err
	}

	tx.user.Username = username
	tx.emit("usernameSet")
	return nil
}

func handleSetVisitor(p *Processor, tx *txn) error {
	var pl SetVisitorPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	if tx.user.Visitor == pl.Visitor {
		tx.result.Noop = true
		return nil
	}

	setVisitor(tx.room, tx.user, pl.Visitor)
	tx.emit("visitorSet")
	return nil
}

// setVisitor changes the role of a user. Visitors do not vote, so their
// pending estimations are dropped.
func setVisitor(room *types.Room, user *types.User, visitor bool) {
	user.Visitor = visitor
	if !visitor {
		return
	}
	for _, s := range room.Stories {
		if !s.Revealed {
			s.ClearEstimation(user.Id)
		}
	}
}

func handleAddStory(p *Processor, tx *txn) error {
	var pl AddStoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	title, description, err := cleanStory(pl.Title, pl.Description)
	if err != nil {
		return err
	}

	id, err := p.newStoryId()
	if err != nil {
		return fmt.Errorf("generate story id: %w", err)
	}

	story := &types.Story{
		Id:          id,
		Title:       title,
		Description: description,
		Estimations: make(map[string]float64),
		CreatedAt:   tx.now,
	}
	tx.room.Stories = append(tx.room.Stories, story)
	tx.emit("storyAdded")

	if tx.room.SelectedStory == "" {
		tx.room.SelectedStory = story.Id
		tx.emit("storySelected")
	}

	return nil
}

func handleChangeStory(p *Processor, tx *txn) error {
	var pl ChangeStoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := findStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}

	title, description, err := cleanStory(pl.Title, pl.Description)
	if err != nil {
		return err
	}

	story.Title = title
	story.Description = description
	tx.emit("storyChanged")
	return nil
}

func handleTrashStory(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := findStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if story.Trashed {
		tx.result.Noop = true
		return nil
	}

	story.Trashed = true
	tx.emit("storyTrashed")

	if tx.room.SelectedStory == story.Id {
		tx.room.SelectedStory = ""
		if next := tx.room.FirstActiveStory(); next != nil {
			tx.room.SelectedStory = next.Id
		}
		tx.emit("storySelected")
	}

	return nil
}

func handleRestoreStory(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := findStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if !story.Trashed {
		tx.result.Noop = true
		return nil
	}

	story.Trashed = false
	tx.emit("storyRestored")

	if tx.room.SelectedStory == "" {
		tx.room.SelectedStory = story.Id
		tx.emit("storySelected")
	}

	return nil
}

func handleSelectStory(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := findStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	// trashed stories are not offered for selection
	if story.Trashed {
		return notFound("story %q not found in room %q", pl.StoryId, tx.room.Id)
	}

	tx.room.SelectedStory = story.Id
	tx.emit("storySelected")
	return nil
}

func handleEstimate(p *Processor, tx *txn) error {
	var pl EstimatePayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := activeStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if story.Revealed {
		return invalidState("story %q is already revealed", story.Id)
	}
	if tx.user.Visitor {
		return invalidState("visitors cannot estimate")
	}
	if _, ok := types.FindCard(tx.room.Cards(), pl.Value); !ok {
		return validation("%v is not a card of room %q", pl.Value, tx.room.Id)
	}
	if pl.Confidence < types.ConfidenceUnsure || pl.Confidence > types.ConfidenceVerySure {
		return validation("confidence must be between %d and %d", types.ConfidenceUnsure, types.ConfidenceVerySure)
	}

	story.SetEstimation(tx.user.Id, pl.Value, pl.Confidence)
	tx.emit("storyEstimated")

	if tx.room.AutoReveal && allEstimated(tx.room, story) {
		story.Revealed = true
		tx.emit("revealed")
	}

	return nil
}

// allEstimated reports whether every connected non-visitor estimated story.
func allEstimated(room *types.Room, story *types.Story) bool {
	var voters int
	for _, u := range room.Users {
		if u.Visitor || u.Disconnected {
			continue
		}
		voters++
		if _, ok := story.Estimations[u.Id]; !ok {
			return false
		}
	}
	return voters > 0
}

func handleClearEstimate(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := activeStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if story.Revealed {
		return invalidState("story %q is already revealed", story.Id)
	}
	if _, ok := story.Estimations[tx.user.Id]; !ok {
		tx.result.Noop = true
		return nil
	}

	story.ClearEstimation(tx.user.Id)
	tx.emit("estimationCleared")
	return nil
}

func handleReveal(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := activeStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if story.Revealed {
		tx.result.Noop = true
		return nil
	}

	story.Revealed = true
	tx.emit("revealed")
	return nil
}

func handleNewRound(p *Processor, tx *txn) error {
	var pl StoryPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := activeStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}

	story.ClearEstimations()
	story.Revealed = false
	story.Consensus = nil
	tx.emit("newRound")
	return nil
}

func handleSettle(p *Processor, tx *txn) error {
	var pl SettlePayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	story, err := activeStory(tx.room, pl.StoryId)
	if err != nil {
		return err
	}
	if !story.Revealed {
		return invalidState("story %q is not revealed", story.Id)
	}
	if _, ok := types.FindCard(tx.room.Cards(), pl.Value); !ok {
		return validation("%v is not a card of room %q", pl.Value, tx.room.Id)
	}

	value := pl.Value
	story.Consensus = &value
	tx.emit("settled")
	return nil
}

func handleSetAutoReveal(p *Processor, tx *txn) error {
	var pl SetAutoRevealPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	if tx.room.AutoReveal == pl.AutoReveal {
		tx.result.Noop = true
		return nil
	}

	tx.room.AutoReveal = pl.AutoReveal
	tx.emit("autoRevealSet")
	return nil
}

func handleSetCardConfig(p *Processor, tx *txn) error {
	var pl SetCardConfigPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	if len(pl.CardConfig) == 0 || len(pl.CardConfig) > maxCards {
		return validation("card config must have between 1 and %d cards", maxCards)
	}

	seen := make(map[float64]bool, len(pl.CardConfig))
	for _, c := range pl.CardConfig {
		if strings.TrimSpace(c.Label) == "" {
			return validation("card label is required")
		}
		if seen[c.Value] {
			return validation("duplicate card value %v", c.Value)
		}
		seen[c.Value] = true
	}

	tx.room.CardConfig = pl.CardConfig
	tx.emit("cardConfigSet")
	return nil
}

func handleSetPassword(p *Processor, tx *txn) error {
	var pl SetPasswordPayload
	if err := decodePayload(tx.cmd, &pl); err != nil {
		return err
	}

	if pl.Password == "" {
		if tx.room.Password == "" {
			tx.result.Noop = true
			return nil
		}
		tx.room.Password = ""
		tx.emit("passwordCleared")
		return nil
	}

	hash, err := p.hashPassword(pl.Password)
	if err != nil {
		return fmt.Errorf("hash room password: %w", err)
	}
	tx.room.Password = hash

	token, err := p.tokens.Issue(tx.user.Id, tx.room.Id)
	if err != nil {
		return fmt.Errorf("issue room token: %w", err)
	}
	tx.result.Token = token

	tx.emit("passwordSet")
	return nil
}

func handleDisconnect(p *Processor, tx *txn) error {
	if tx.user.Disconnected {
		tx.result.Noop = true
		return nil
	}

	tx.user.Disconnected = true
	tx.emit("disconnected")
	return nil
}

func findStory(room *types.Room, id string) (*types.Story, error) {
	if id == "" {
		return nil, validation("story id is required")
	}

	story := room.FindStory(id)
	if story == nil {
		return nil, notFound("story %q not found in room %q", id, room.Id)
	}
	return story, nil
}

// activeStory is findStory for commands that do not apply to trashed stories.
func activeStory(room *types.Room, id string) (*types.Story, error) {
	story, err := findStory(room, id)
	if err != nil {
		return nil, err
	}
	if story.Trashed {
		return nil, invalidState("story %q is trashed", id)
	}
	return story, nil
}

func cleanUsername(username string, optional bool) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" && !optional {
		return "", validation("username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return "", validation("username exceeds %d characters", maxUsernameLength)
	}
	return username, nil
}

func cleanStory(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", validation("story title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", validation("story title exceeds %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return "", "", validation("story description exceeds %d characters", maxDescriptionLength)
	}
	return title, strings.TrimSpace(description), nil
}
