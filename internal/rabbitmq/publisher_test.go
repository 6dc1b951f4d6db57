package rabbitmq_test

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mqpool/internal/rabbitmq"
	"github.com/glimte/mqpool/internal/rabbitmqtest"
)

func TestPublisher(t *testing.T) {
	t.Run("messages are published in order on one channel", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		publisher := rabbitmq.NewPublisher(newPool(t, broker))

		err := publisher.Publish(context.Background(), "amq.direct", "new",
			amqp.Publishing{Body: []byte("a")},
			amqp.Publishing{Body: []byte("b")},
			amqp.Publishing{Body: []byte("c")},
		)
		require.NoError(t, err)

		published := broker.Published()
		require.Len(t, published, 3)
		for i, body := range []string{"a", "b", "c"} {
			assert.Equal(t, body, string(published[i].Msg.Body))
			assert.Equal(t, "amq.direct", published[i].Exchange)
			assert.Equal(t, "new", published[i].Key)
			assert.Equal(t, published[0].Channel, published[i].Channel)
		}
	})

	t.Run("nothing to publish touches nothing", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		publisher := rabbitmq.NewPublisher(newPool(t, broker))

		require.NoError(t, publisher.Publish(context.Background(), "amq.direct", "new"))
		assert.Equal(t, 0, broker.Operations())
	})

	t.Run("failure reports the failed position", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		publisher := rabbitmq.NewPublisher(newPool(t, broker))

		publishErr := errors.New("channel blocked")
		broker.FailOn("Publish", "", publishErr)

		err := publisher.Publish(context.Background(), "amq.direct", "new", amqp.Publishing{Body: []byte("a")})
		require.Error(t, err)
		assert.ErrorIs(t, err, publishErr)

		var pubErr *rabbitmq.PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, 0, pubErr.Index)
		assert.Equal(t, "new", pubErr.RoutingKey)
	})

	t.Run("cancelled context stops publishing", func(t *testing.T) {
		broker := rabbitmqtest.NewBroker()
		publisher := rabbitmq.NewPublisher(newPool(t, broker))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := publisher.Publish(ctx, "amq.direct", "new", amqp.Publishing{Body: []byte("a")})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, broker.Published())
	})
}
