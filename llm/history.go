package llm

import (
	"context"
	"fmt"
	"strings"
)

// Actor is the author of a stored message.
type Actor string

const (
	ActorUser      Actor = "USER"
	ActorAssistant Actor = "ASSISTANT"
)

// MessageDataType discriminates the populated field of a MessageData.
type MessageDataType string

const (
	MessageDataText           MessageDataType = "TEXT"
	MessageDataToolRequest    MessageDataType = "TOOL_USE_REQUEST"
	MessageDataToolResponse   MessageDataType = "TOOL_USE_RESPONSE"
	MessageDataThinking       MessageDataType = "EXTENDED_THINKING"
	MessageDataFileAttachment MessageDataType = "FILE_ATTACHMENT"
)

// MessageData is one stored item of a legacy message.
type MessageData struct {
	Type         MessageDataType
	Text         string
	ToolRequest  *ToolRequest
	ToolResponse *ToolResponse
	Thinking     *ThinkingContent
	AttachmentID int64
}

// MessageThread is a stored message from an earlier exchange.
type MessageThread struct {
	Actor       Actor
	MessageType string
	Data        []MessageData
}

// Attachment is a fetched file.
type Attachment struct {
	MimeType string
	Data     []byte
}

// AttachmentMap holds in-flight attachment fetches keyed by attachment id.
type AttachmentMap map[int64]*Future[Attachment]

// image awaits the attachment and returns it as image content. Attachments
// that are unknown, failed or not images yield nil.
func (m AttachmentMap) image(ctx context.Context, id int64) (*TurnContent, error) {
	f, ok := m[id]
	if !ok || f == nil {
		return nil, nil
	}
	att, err := f.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, nil
	}
	if !strings.HasPrefix(att.MimeType, "image/") {
		return nil, nil
	}
	c := NewImageContent(att.MimeType, att.Data)
	return &c, nil
}

// ResolveHistory converts stored messages into conversation turns.
//
// Tool requests are held until their response arrives; the pair is then
// emitted as an assistant turn followed by a tool turn. Requests that are
// never answered, or that are passed over by a later answer, are dropped.
func ResolveHistory(ctx context.Context, threads []MessageThread, attachments AttachmentMap) ([]ConversationTurn, error) {
	pending := make(map[string]*ToolRequest)
	var order []string
	var turns []ConversationTurn

	for _, msg := range threads {
		role := RoleUser
		if msg.Actor == ActorAssistant {
			role = RoleAssistant
		}

		var content []TurnContent
		flush := func() {
			if len(content) > 0 {
				turns = append(turns, ConversationTurn{Role: role, Content: content})
				content = nil
			}
		}

		for _, data := range msg.Data {
			switch data.Type {
			case MessageDataText:
				if strings.TrimSpace(data.Text) == "" {
					continue
				}
				content = append(content, NewTextContent(data.Text))
			case MessageDataThinking:
				if data.Thinking != nil {
					content = append(content, TurnContent{Type: TurnContentThinking, Thinking: data.Thinking})
				}
			case MessageDataFileAttachment:
				img, err := attachments.image(ctx, data.AttachmentID)
				if err != nil {
					return nil, fmt.Errorf("resolve attachment %d: %w", data.AttachmentID, err)
				}
				if img != nil {
					content = append(content, *img)
				}
			case MessageDataToolRequest:
				if data.ToolRequest == nil {
					continue
				}
				id := data.ToolRequest.ToolUseID
				if _, seen := pending[id]; !seen {
					order = append(order, id)
				}
				pending[id] = data.ToolRequest
			case MessageDataToolResponse:
				if data.ToolResponse == nil {
					continue
				}
				id := data.ToolResponse.ToolUseID
				if _, ok := pending[id]; !ok {
					continue
				}
				var req *ToolRequest
				for len(order) > 0 {
					head := order[0]
					order = order[1:]
					r := pending[head]
					delete(pending, head)
					if head == id {
						req = r
						break
					}
				}
				// The answered pair goes ahead of the message's own content.
				turns = append(turns,
					ConversationTurn{Role: RoleAssistant, Content: []TurnContent{
						NewToolRequestContent(req.ToolUseID, req.ToolName, req.ToolInput),
					}},
					ConversationTurn{Role: RoleTool, Content: []TurnContent{
						NewToolResponseContent(id, responseName(data.ToolResponse, req), data.ToolResponse.Response),
					}},
				)
			}
		}
		flush()
	}
	return turns, nil
}

func responseName(resp *ToolResponse, req *ToolRequest) string {
	if resp.ToolName != "" {
		return resp.ToolName
	}
	return req.ToolName
}

// BuildTurns produces the conversation for a payload request. Explicit
// conversation turns win; otherwise the legacy history, any pending tool
// response and the user prompt (images first) are combined.
func BuildTurns(ctx context.Context, req *PayloadRequest) ([]ConversationTurn, error) {
	if req.ConversationTurns != nil {
		if err := ValidateTurns(req.ConversationTurns); err != nil {
			return nil, err
		}
		return req.ConversationTurns, nil
	}

	threads := req.PreviousResponses
	if req.ToolUseResponse != nil {
		threads = append(append([]MessageThread(nil), threads...), MessageThread{
			Actor: ActorUser,
			Data:  []MessageData{{Type: MessageDataToolResponse, ToolResponse: req.ToolUseResponse}},
		})
	}
	turns, err := ResolveHistory(ctx, threads, req.AttachmentData)
	if err != nil {
		return nil, err
	}

	var content []TurnContent
	for _, id := range req.Attachments {
		img, err := req.AttachmentData.image(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment %d: %w", id, err)
		}
		if img != nil {
			content = append(content, *img)
		}
	}
	if strings.TrimSpace(req.Prompt.User) != "" {
		content = append(content, NewTextContent(req.Prompt.User))
	}
	if len(content) > 0 {
		turns = append(turns, ConversationTurn{Role: RoleUser, Content: content})
	}
	return turns, nil
}
