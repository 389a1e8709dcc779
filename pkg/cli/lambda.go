package cli

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

func NewLambdaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve invocations from the AWS Lambda runtime API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd)
		},
	}
}

func runLambda(cmd *cobra.Command) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.log.Sync() }()

	rt.log.Sugar().Infow("Starting Lambda handler")
	// lambda.Start blocks for the lifetime of the execution environment
	lambda.Start(rt.newHandler().Handle)
	return nil
}
