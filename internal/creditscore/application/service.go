package application

import "context"

// CreditScoreService 信用分应用服务门面，供 HTTP/gRPC/消费者使用
type CreditScoreService struct {
	Ledger *ScoreLedgerService
	Query  *ScoreQueryService
	Bonus  *BonusService
	Sync   *UserSyncService
}

// NewCreditScoreService 组装门面
func NewCreditScoreService(ledger *ScoreLedgerService, query *ScoreQueryService, bonus *BonusService, sync *UserSyncService) *CreditScoreService {
	return &CreditScoreService{Ledger: ledger, Query: query, Bonus: bonus, Sync: sync}
}

func (s *CreditScoreService) ApplyScoreChange(ctx context.Context, cmd ApplyScoreChangeCommand) (*ScoreChangeResult, error) {
	return s.Ledger.ApplyScoreChange(ctx, cmd)
}

func (s *CreditScoreService) GetCurrentScore(ctx context.Context, uid string) (int64, error) {
	return s.Query.GetCurrentScore(ctx, uid)
}

func (s *CreditScoreService) GetScoreHistory(ctx context.Context, q ScoreHistoryQuery) (*ScoreHistoryPage, error) {
	return s.Query.GetScoreHistory(ctx, q)
}

func (s *CreditScoreService) GrantOneTimeBonus(ctx context.Context, uid string) (*BonusResult, error) {
	return s.Bonus.GrantOneTimeBonus(ctx, uid)
}

func (s *CreditScoreService) HandleLifecycleEvent(ctx context.Context, evt LifecycleEvent) error {
	return s.Sync.Handle(ctx, evt)
}
