package events

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), Event{Type: TypeSubmissionCreated}); err != nil {
		t.Fatalf("nop publish: %v", err)
	}
}

func TestRabbitPublisherIntegration(t *testing.T) {
	url := os.Getenv("QUIZDESK_TEST_AMQP_URL")
	if os.Getenv("QUIZDESK_INTEGRATION") != "1" || url == "" {
		t.Skip("set QUIZDESK_INTEGRATION=1 and QUIZDESK_TEST_AMQP_URL to run")
	}
	p, err := NewRabbitPublisher(url, "quizdesk.test.events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Publish(ctx, Event{Type: TypeSubmissionCreated, QuizID: "q", SubmissionID: "s", Score: 1, MaxScore: 2, OccurredAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}
