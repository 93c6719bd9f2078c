package agent

import (
	"context"

	"github.com/eclipse/paho.golang/paho"
)

// mqttSession is the slice of *autopaho.ConnectionManager the runtime
// actually calls. Narrowing to an interface at the point of use (rather
// than depending on the concrete type directly) lets tests exercise the
// agent loop and lifecycle side-effects with a fake, without a broker.
type mqttSession interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
	Unsubscribe(ctx context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error)
	Disconnect(ctx context.Context) error
}
