package messaging

// Queue and subject names shared by the producer and consumer.
// Subjects follow {system}.{resource}[.{qualifier}].
const (
	// DefaultQueueName is the durable queue submissions travel through.
	DefaultQueueName = "submit_queue"

	// SubjectSubmissions is the subject bound to DefaultQueueName.
	SubjectSubmissions = "landregistry.submissions"

	// SubjectDeadLetter receives submissions the consumer discarded.
	SubjectDeadLetter = "landregistry.deadletter.submissions"

	// DefaultConsumerName is the durable consumer of DefaultQueueName.
	DefaultConsumerName = "landregistry-consumer"
)

// Headers carried on relay messages.
const (
	HeaderSubmissionID = "Landregistry-Submission-Id"
	HeaderRequestID    = "X-Request-ID"
	HeaderDLQReason    = "Landregistry-Dlq-Reason"
	HeaderDLQError     = "Landregistry-Dlq-Error"
	HeaderDLQAttempts  = "Landregistry-Dlq-Attempts"
)
