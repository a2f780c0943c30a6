package buzzsway

import "context"

// ============================================================================
// Messages sub-client
// ============================================================================

// MessagesClient handles persisted direct-message history. Live delivery
// happens over the Channel, not here.
type MessagesClient struct{ c *Client }

// History returns the full message history between two users, ordered by
// creation time ascending.
func (m *MessagesClient) History(ctx context.Context, userA, userB string) ([]Message, error) {
	data, err := m.c.doRequest(ctx, "GET", "/messages/private/"+userA+"/"+userB, nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := unmarshalInto(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
