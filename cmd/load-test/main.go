// Command load-test drives concurrent isLoadTest drip payloads straight
// onto the drip exchange, exercising the dispatcher's broker consumption
// and step-1 short-circuit without touching postgres, a real gateway, or
// live credit balances.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/ports"
)

type dripPayload struct {
	ScheduledMessageID int64     `json:"scheduledMessageId"`
	ToNumber           string    `json:"toNumber"`
	Message            string    `json:"message"`
	ScheduledAt        time.Time `json:"scheduledAt"`
	QueuedAt           time.Time `json:"queuedAt"`
	IsLoadTest         bool      `json:"isLoadTest"`
}

type result struct {
	totalRequests  int
	successCount   int32
	failureCount   int32
	totalDuration  time.Duration
	requestsPerSec float64
	errorsMu       sync.Mutex
	errors         map[string]int
}

func (r *result) recordError(msg string) {
	r.errorsMu.Lock()
	defer r.errorsMu.Unlock()
	r.errors[msg]++
}

func runLoadTest(publisher *rabbitmq.Publisher, numRequests, concurrency int) *result {
	var (
		successCount int32
		failureCount int32
		wg           sync.WaitGroup
		semaphore    = make(chan struct{}, concurrency)
	)
	res := &result{totalRequests: numRequests, errors: make(map[string]int)}

	start := time.Now()

	fmt.Printf("\nStarting load test: %d payloads with concurrency %d\n", numRequests, concurrency)
	fmt.Println("---------------------------------------------------")

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(reqNum int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			payload := dripPayload{
				ScheduledMessageID: int64(reqNum),
				ToNumber:           fmt.Sprintf("+1555010%04d", reqNum%10000),
				Message:            fmt.Sprintf("load test message #%d", reqNum),
				ScheduledAt:        time.Now().UTC(),
				QueuedAt:           time.Now().UTC(),
				IsLoadTest:         true,
			}

			body, err := json.Marshal(payload)
			if err != nil {
				atomic.AddInt32(&failureCount, 1)
				res.recordError(err.Error())
				return
			}

			err = publisher.Publish(context.Background(), rabbitmq.ExchangeDrip, ports.Envelope{
				RoutingKey: "drip.send",
				Body:       body,
			})
			if err != nil {
				atomic.AddInt32(&failureCount, 1)
				res.recordError(err.Error())
				return
			}

			atomic.AddInt32(&successCount, 1)
			if reqNum%10 == 0 {
				fmt.Print(".")
			}
		}(i)
	}

	wg.Wait()
	res.totalDuration = time.Since(start)
	res.successCount = successCount
	res.failureCount = failureCount
	res.requestsPerSec = float64(numRequests) / res.totalDuration.Seconds()

	fmt.Println("\n---------------------------------------------------")
	return res
}

func printResults(r *result) {
	fmt.Printf("\nLoad Test Results\n")
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Total Requests: %d\n", r.totalRequests)
	fmt.Printf("Published:      %d (%.2f%%)\n", r.successCount, float64(r.successCount)/float64(r.totalRequests)*100)
	fmt.Printf("Failed:         %d (%.2f%%)\n", r.failureCount, float64(r.failureCount)/float64(r.totalRequests)*100)
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Total Duration: %v\n", r.totalDuration)
	fmt.Printf("Publishes/sec:  %.2f\n", r.requestsPerSec)

	if len(r.errors) > 0 {
		fmt.Println("---------------------------------------------------")
		fmt.Println("Errors:")
		for msg, count := range r.errors {
			fmt.Printf("  %s: %d times\n", msg, count)
		}
	}
	fmt.Println("---------------------------------------------------")
}

func main() {
	conf := cfg.FromEnv()

	publisher, err := rabbitmq.NewPublisher(conf.AMQPURL)
	if err != nil {
		fmt.Printf("failed to connect to rabbitmq: %v\n", err)
		return
	}
	defer publisher.Close()

	fmt.Println("=====================================================")
	fmt.Println("TEST 1: 100 payloads (concurrency: 10)")
	fmt.Println("=====================================================")
	result100 := runLoadTest(publisher, 100, 10)
	printResults(result100)

	fmt.Println("Waiting 3 seconds before next test...")
	time.Sleep(3 * time.Second)

	fmt.Println("=====================================================")
	fmt.Println("TEST 2: 1000 payloads (concurrency: 50)")
	fmt.Println("=====================================================")
	result1000 := runLoadTest(publisher, 1000, 50)
	printResults(result1000)

	fmt.Println("=====================================================")
	fmt.Println("COMPARISON SUMMARY")
	fmt.Println("=====================================================")
	fmt.Printf("100 payloads:  %.2f pub/sec\n", result100.requestsPerSec)
	fmt.Printf("1000 payloads: %.2f pub/sec\n", result1000.requestsPerSec)
	fmt.Println("=====================================================")
}
