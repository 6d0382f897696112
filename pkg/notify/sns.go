package notify

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/arnaduga/notif-hello-asso/pkg/logging"
)

// SNS rejects subjects longer than this.
const maxSubjectLen = 100

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNS struct {
	api      publishAPI
	topicARN string
	service  string
}

func NewSNS(client *sns.Client, topicARN, service string) *SNS {
	return &SNS{api: client, topicARN: topicARN, service: service}
}

func (s *SNS) Notify(ctx context.Context, msg Message) error {
	out, err := s.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject(msg.Subject)),
		Message:  aws.String(msg.Body),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("sns topic not found %s: %w", s.topicARN, err)
		}
		return fmt.Errorf("sns publish %s: %w", s.topicARN, err)
	}
	logging.Log(logging.Fields{
		Service: s.service,
		RunID:   msg.RunID,
		Step:    "notify_sns",
		Status:  "published",
		Message: "message id " + aws.ToString(out.MessageId),
	})
	return nil
}

func subject(s string) string {
	if len(s) <= maxSubjectLen {
		return s
	}
	s = s[:maxSubjectLen]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
