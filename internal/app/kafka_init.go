package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Ошибка подключения не останавливает сервис: события копятся в outbox до следующего запуска.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) *kafka.Producer {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka brokers are not configured, order events stay in outbox")
		return nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, order events stay in outbox")
		return nil
	}

	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
	return producer
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
