package channel

import (
	"go.uber.org/zap"

	"proofcanvas/domain/collab"
)

// subscribeTyped decodes the payload before calling fn. Envelopes whose
// payload fails validation are logged and dropped.
func subscribeTyped[T any](c *Channel, t collab.MessageType, fn func(from string, payload T)) *Subscription {
	return c.registry.Subscribe(t, func(env collab.Envelope) {
		var payload T
		if err := env.Decode(&payload); err != nil {
			c.logger.Warn("Dropping invalid payload",
				zap.String("type", string(env.Type)),
				zap.String("userID", env.UserID),
				zap.Error(err),
			)
			return
		}
		fn(env.UserID, payload)
	})
}

func (c *Channel) OnPresenceSync(fn func(from string, p collab.PresenceSync)) *Subscription {
	return subscribeTyped(c, collab.TypePresenceSync, fn)
}

func (c *Channel) OnUserJoined(fn func(from string, p collab.PresenceRecord)) *Subscription {
	return subscribeTyped(c, collab.TypeUserJoined, fn)
}

func (c *Channel) OnUserLeft(fn func(from string, p collab.UserLeft)) *Subscription {
	return subscribeTyped(c, collab.TypeUserLeft, fn)
}

func (c *Channel) OnCursorMove(fn func(from string, p collab.Cursor)) *Subscription {
	return subscribeTyped(c, collab.TypeCursorMove, fn)
}

func (c *Channel) OnSelectionChange(fn func(from string, p collab.Selection)) *Subscription {
	return subscribeTyped(c, collab.TypeSelectionChange, fn)
}

func (c *Channel) OnDocumentSync(fn func(from string, p collab.DocumentSync)) *Subscription {
	return subscribeTyped(c, collab.TypeDocumentSync, fn)
}

func (c *Channel) OnDocumentEdit(fn func(from string, p collab.DocumentEdit)) *Subscription {
	return subscribeTyped(c, collab.TypeDocumentEdit, fn)
}

func (c *Channel) OnCanvasSync(fn func(from string, p collab.CanvasSync)) *Subscription {
	return subscribeTyped(c, collab.TypeCanvasSync, fn)
}

func (c *Channel) OnNodeCreate(fn func(from string, p collab.NodePayload)) *Subscription {
	return subscribeTyped(c, collab.TypeNodeCreate, fn)
}

func (c *Channel) OnNodeUpdate(fn func(from string, p collab.NodePayload)) *Subscription {
	return subscribeTyped(c, collab.TypeNodeUpdate, fn)
}

func (c *Channel) OnNodeDelete(fn func(from string, p collab.NodeDelete)) *Subscription {
	return subscribeTyped(c, collab.TypeNodeDelete, fn)
}

func (c *Channel) OnNodeMove(fn func(from string, p collab.NodeMove)) *Subscription {
	return subscribeTyped(c, collab.TypeNodeMove, fn)
}

func (c *Channel) OnNodesMove(fn func(from string, p collab.NodesMove)) *Subscription {
	return subscribeTyped(c, collab.TypeNodesMove, fn)
}

func (c *Channel) OnEdgeCreate(fn func(from string, p collab.EdgePayload)) *Subscription {
	return subscribeTyped(c, collab.TypeEdgeCreate, fn)
}

func (c *Channel) OnEdgeDelete(fn func(from string, p collab.EdgeDelete)) *Subscription {
	return subscribeTyped(c, collab.TypeEdgeDelete, fn)
}

// OnError receives relay rejections of envelopes this channel sent
func (c *Channel) OnError(fn func(from string, p collab.ErrorPayload)) *Subscription {
	return subscribeTyped(c, collab.TypeError, fn)
}
